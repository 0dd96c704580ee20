package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/reconcile"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare record counts and date ranges of every series",
	Long: "Streams every archive series in full and compares its row count and first and last " +
		"dates with the mirror. Nothing is migrated.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dsFlag, _ := cmd.Flags().GetString("dataset")
		symbol, _ := cmd.Flags().GetString("symbol")
		ivFlag, _ := cmd.Flags().GetString("interval")
		details, _ := cmd.Flags().GetBool("details")
		formatFlag, _ := cmd.Flags().GetString("format")

		datasets, err := selectedDatasets(dsFlag)
		if err != nil {
			return err
		}
		format, err := reportFormat(formatFlag)
		if err != nil {
			return err
		}
		filter := reconcile.Filter{Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
		if ivFlag != "" {
			if filter.Interval, err = model.ParseInterval(ivFlag); err != nil {
				return err
			}
		}

		engine := newEngine()
		return execute(cmd.Context(), cmd.OutOrStdout(), reconcile.ModeFull, datasets, format, maxItems(details),
			func(ctx context.Context, spec reconcile.DatasetSpec) (*reconcile.DatasetResult, error) {
				return engine.Verify(ctx, spec, filter)
			})
	},
}

func init() {
	verifyCmd.Flags().String("dataset", "", "dataset to verify (primary, secondary; default both)")
	verifyCmd.Flags().String("symbol", "", "verify a single symbol")
	verifyCmd.Flags().String("interval", "", "verify a single interval (1D, 1H, 1m, daily, hourly, minute)")
	verifyCmd.Flags().Bool("details", false, "list every mismatch instead of the first few")
	verifyCmd.Flags().String("format", "", "report format (text, json, yaml; default from config)")
	rootCmd.AddCommand(verifyCmd)
}
