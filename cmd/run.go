package main

import (
	"context"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/notify"
	"github.com/aipriceaction/mirrorsync/internal/reconcile"
	"github.com/aipriceaction/mirrorsync/internal/report"
	"github.com/aipriceaction/mirrorsync/internal/resilience"
	"github.com/aipriceaction/mirrorsync/internal/runlog"
)

// selectedDatasets resolves a --dataset value. Empty or "all" selects both.
func selectedDatasets(flag string) ([]model.Dataset, error) {
	if flag == "" || strings.EqualFold(flag, "all") {
		return model.Datasets(), nil
	}
	ds, err := model.ParseDataset(flag)
	if err != nil {
		return nil, err
	}
	return []model.Dataset{ds}, nil
}

func datasetSpec(ds model.Dataset) reconcile.DatasetSpec {
	d := cfg.Dataset(ds)
	return reconcile.DatasetSpec{
		Dataset:      ds,
		Label:        d.Label,
		ArchiveRoot:  d.ArchiveDir,
		Driver:       cfg.Mirror.Driver,
		MirrorTarget: d.Mirror,
	}
}

func newEngine() *reconcile.Engine {
	return reconcile.NewEngine(
		reconcile.WithConcurrency(cfg.Reconcile.Concurrency),
		reconcile.WithChunkSize(cfg.Reconcile.TailChunkSize),
		reconcile.WithRetry(resilience.WithAttempts(cfg.Mirror.RetryAttempts)),
	)
}

// reportFormat picks the --format flag over the configured default.
func reportFormat(flag string) (string, error) {
	if flag == "" {
		flag = cfg.Report.Format
	}
	return report.ParseFormat(flag)
}

func maxItems(all bool) int {
	if all {
		return math.MaxInt
	}
	return cfg.Report.MaxItems
}

// tracker mirrors a run into the run log. A nil log makes every call a no-op.
type tracker struct {
	log *runlog.Log
	id  string
}

// startRun opens the run log and records a running entry. Run log problems
// are logged and never stop the run.
func startRun(ctx context.Context, mode reconcile.Mode, datasets []model.Dataset) *tracker {
	t := &tracker{id: uuid.NewString()}
	if cfg.Runlog.Path == "" {
		return t
	}
	l, err := runlog.Open(ctx, cfg.Runlog.Path)
	if err != nil {
		zap.L().Warn("run log unavailable", zap.String("path", cfg.Runlog.Path), zap.Error(err))
		return t
	}
	id, err := l.Start(ctx, mode, datasets)
	if err != nil {
		zap.L().Warn("run log start failed", zap.Error(err))
		_ = l.Close()
		return t
	}
	t.log, t.id = l, id
	return t
}

func (t *tracker) complete(ctx context.Context, s runlog.Summary) {
	if t.log == nil {
		return
	}
	if err := t.log.Complete(ctx, t.id, s); err != nil {
		zap.L().Warn("run log complete failed", zap.String("run_id", t.id), zap.Error(err))
	}
	_ = t.log.Close()
}

func (t *tracker) fail(ctx context.Context, cause error) {
	if t.log == nil {
		return
	}
	if err := t.log.Fail(ctx, t.id, cause.Error()); err != nil {
		zap.L().Warn("run log fail failed", zap.String("run_id", t.id), zap.Error(err))
	}
	_ = t.log.Close()
}

// runFunc checks one dataset.
type runFunc func(ctx context.Context, spec reconcile.DatasetSpec) (*reconcile.DatasetResult, error)

// execute runs fn for every dataset in order, then reports, records, and
// alerts. Bookkeeping after the checks runs detached from ctx so an
// interrupted run is still recorded.
func execute(ctx context.Context, out io.Writer, mode reconcile.Mode, datasets []model.Dataset,
	format string, items int, fn runFunc,
) error {
	log := zap.L().With(zap.String("command", string(mode)))
	bg := context.WithoutCancel(ctx)
	t := startRun(bg, mode, datasets)

	run := &reconcile.Run{ID: t.id, Mode: mode, StartedAt: time.Now().UTC()}
	for _, ds := range datasets {
		res, err := fn(ctx, datasetSpec(ds))
		if err != nil {
			log.Error("run aborted", zap.String("dataset", string(ds)), zap.Error(err))
			t.fail(bg, err)
			return err
		}
		run.Datasets = append(run.Datasets, res)
	}
	run.FinishedAt = time.Now().UTC()

	rep := report.Build(run, items)
	if err := report.Encode(out, rep, format); err != nil {
		t.fail(bg, err)
		return err
	}
	t.complete(bg, runlog.SummaryOf(run))

	alerter := notify.NewAlerter(cfg.Notify)
	if alerter.Enabled() {
		alerts := alerter.Evaluate(rep)
		sent := alerter.Send(bg, alerts)
		log.Info("alerts evaluated", zap.Int("triggered", len(alerts)), zap.Int("sent", sent))
	}

	log.Info("run complete",
		zap.String("run_id", run.ID),
		zap.Bool("clean", run.Clean()),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	switch {
	case run.Interrupted() || ctx.Err() != nil:
		return errInterrupted
	case !run.Clean():
		return errDiscrepancies
	}
	return nil
}
