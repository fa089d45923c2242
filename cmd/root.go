package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "selloutd",
	Short: "Vendor sellout spreadsheet ingestion pipeline",
	Long:  "Ingests reseller sell-out spreadsheets: detects the vendor format, extracts and normalizes rows, deduplicates against stored facts and loads them into the sellout database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
