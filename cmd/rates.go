package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var rateValidOn string

func init() {
	ratesSetCmd.Flags().StringVar(&rateValidOn, "valid-on", "", "first date the rate applies (YYYY-MM-DD, default today)")
	ratesCmd.AddCommand(ratesSetCmd)
	rootCmd.AddCommand(ratesCmd)
}

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Manage currency conversion rates",
}

var ratesSetCmd = &cobra.Command{
	Use:   "set <from> <to> <rate>",
	Short: "Add or update one rate",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := decimal.NewFromString(args[2])
		if err != nil {
			return eris.Wrapf(err, "parse rate %q", args[2])
		}

		validOn := time.Now().UTC().Truncate(24 * time.Hour)
		if rateValidOn != "" {
			validOn, err = time.Parse("2006-01-02", rateValidOn)
			if err != nil {
				return eris.Wrapf(err, "parse --valid-on %q", rateValidOn)
			}
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.UpsertRate(cmd.Context(), args[0], args[1], rate, validOn); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s->%s = %s from %s\n",
			args[0], args[1], rate, validOn.Format("2006-01-02"))
		return nil
	},
}
