package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	mappingsCmd.AddCommand(mappingsSetCmd)
	rootCmd.AddCommand(mappingsCmd)
}

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage reseller product name to EAN mappings",
}

var mappingsSetCmd = &cobra.Command{
	Use:   "set <reseller> <product-name> <ean>",
	Short: "Add or update one mapping",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.UpsertProductMapping(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %q -> %s\n", args[0], args[1], args[2])
		return nil
	},
}
