package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
)

func init() {
	formatsCmd.AddCommand(formatsListCmd)
	formatsCmd.AddCommand(formatsCheckCmd)
	rootCmd.AddCommand(formatsCmd)
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "Inspect the vendor format catalog",
}

var formatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog formats in detection priority order",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, f := range catalog.Formats() {
			extras := []string{string(f.Layout.Shape)}
			if f.MultiStore() {
				extras = append(extras, "multi-store")
			}
			fmt.Fprintf(out, "%-12s v%-3s %-10s %-4s %s\n",
				f.ID, f.Version, f.Reseller, f.Currency, strings.Join(extras, ", "))
		}
		return nil
	},
}

var formatsCheckCmd = &cobra.Command{
	Use:   "check <dir>",
	Short: "Validate a directory of format definitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := vendorspec.LoadDir(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d format(s) valid\n", catalog.Len())
		return nil
	},
}
