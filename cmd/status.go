package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/archive"
	"github.com/aipriceaction/mirrorsync/internal/mirror"
	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/report"
	"github.com/aipriceaction/mirrorsync/internal/resilience"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize symbols, records, and files per interval on both sides",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dsFlag, _ := cmd.Flags().GetString("dataset")
		formatFlag, _ := cmd.Flags().GetString("format")

		datasets, err := selectedDatasets(dsFlag)
		if err != nil {
			return err
		}
		format, err := reportFormat(formatFlag)
		if err != nil {
			return err
		}
		return writeStatus(cmd.Context(), cmd.OutOrStdout(), datasets, format)
	},
}

func writeStatus(ctx context.Context, out io.Writer, datasets []model.Dataset, format string) error {
	statuses := make([]report.DatasetStatus, 0, len(datasets))
	for _, ds := range datasets {
		statuses = append(statuses, report.BuildStatus(gatherStatus(ctx, ds)))
	}
	if format == report.FormatText {
		return report.RenderStatus(out, statuses)
	}
	return report.Encode(out, statuses, format)
}

// gatherStatus collects both inventories of one dataset. Either side failing
// is recorded in the input rather than returned.
func gatherStatus(ctx context.Context, ds model.Dataset) report.StatusInput {
	d := cfg.Dataset(ds)
	log := zap.L().With(zap.String("command", "status"), zap.String("dataset", string(ds)))
	in := report.StatusInput{Dataset: ds, Label: d.Label}

	in.Inventory, in.ArchiveErr = archive.NewLayout(ds, d.ArchiveDir).Inventory()
	if in.ArchiveErr != nil {
		log.Warn("archive inventory failed", zap.Error(in.ArchiveErr))
	}

	m, err := mirror.Open(ctx, cfg.Mirror.Driver, ds, d.Mirror)
	if err != nil {
		log.Warn("mirror unavailable", zap.Error(err))
		in.MirrorErr = err
		return in
	}
	defer m.Close() //nolint:errcheck

	in.Totals, in.MirrorErr = resilience.DoVal(ctx, resilience.WithAttempts(cfg.Mirror.RetryAttempts),
		func(ctx context.Context) (map[model.Interval]mirror.IntervalTotals, error) {
			return m.Totals(ctx)
		})
	if in.MirrorErr != nil {
		log.Warn("mirror totals failed", zap.Error(in.MirrorErr))
	}
	return in
}

func init() {
	statusCmd.Flags().String("dataset", "", "dataset to summarize (primary, secondary; default both)")
	statusCmd.Flags().String("format", "", "output format (text, json, yaml; default from config)")
	rootCmd.AddCommand(statusCmd)
}
