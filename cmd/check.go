package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/migrate"
	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/reconcile"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the latest record of every series and migrate what the mirror lacks",
	Long: "Reads the last record of every archive series, compares it with the newest mirror row, " +
		"and re-ingests series missing from the mirror through the migration tool, one interval at a time.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dsFlag, _ := cmd.Flags().GetString("dataset")
		checkOnly, _ := cmd.Flags().GetBool("check-only")
		verbose, _ := cmd.Flags().GetBool("verbose")
		formatFlag, _ := cmd.Flags().GetString("format")

		datasets, err := selectedDatasets(dsFlag)
		if err != nil {
			return err
		}
		format, err := reportFormat(formatFlag)
		if err != nil {
			return err
		}

		engine := newEngine()
		var dispatcher *migrate.Dispatcher
		if !checkOnly {
			dispatcher = migrate.NewDispatcher(migrate.NewExecMigrator(
				cfg.Migrate.Binary,
				cfg.Migrate.BatchSize,
				time.Duration(cfg.Migrate.TimeoutSecs)*time.Second,
			))
		}

		return execute(cmd.Context(), cmd.OutOrStdout(), reconcile.ModeLatest, datasets, format, maxItems(verbose),
			func(ctx context.Context, spec reconcile.DatasetSpec) (*reconcile.DatasetResult, error) {
				return checkDataset(ctx, engine, dispatcher, spec)
			})
	},
}

// checkDataset runs the latest check and, when d is non-nil, dispatches a
// migration batch per interval for series missing from the mirror.
func checkDataset(ctx context.Context, engine *reconcile.Engine, d *migrate.Dispatcher, spec reconcile.DatasetSpec) (*reconcile.DatasetResult, error) {
	res, err := engine.CheckLatest(ctx, spec)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return res, nil
	}

	batches := migrate.BuildBatches(res)
	if len(batches) == 0 {
		return res, nil
	}
	zap.L().Info("dispatching partial migration",
		zap.String("dataset", string(spec.Dataset)),
		zap.Int("batches", len(batches)),
		zap.Int("series", len(res.OutcomesOf(model.OutcomeMissingFromMirror))),
	)
	res.Migrations = d.Dispatch(ctx, batches)
	return res, nil
}

func init() {
	checkCmd.Flags().String("dataset", "", "dataset to check (primary, secondary; default both)")
	checkCmd.Flags().Bool("check-only", false, "report discrepancies without running migrations")
	checkCmd.Flags().Bool("verbose", false, "list every discrepancy instead of the first few")
	checkCmd.Flags().String("format", "", "report format (text, json, yaml; default from config)")
	rootCmd.AddCommand(checkCmd)
}
