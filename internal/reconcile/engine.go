package reconcile

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aipriceaction/mirrorsync/internal/archive"
	"github.com/aipriceaction/mirrorsync/internal/mirror"
	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/resilience"
)

// DefaultConcurrency caps the per-series worker pool.
const DefaultConcurrency = 4

// Opener connects to a dataset's mirror. mirror.Open satisfies it.
type Opener func(ctx context.Context, driver string, ds model.Dataset, target string) (mirror.Mirror, error)

// Filter narrows a verification run to a symbol and/or interval.
type Filter struct {
	Symbol   string
	Interval model.Interval
}

// Engine runs latest checks and full verifications. It holds configuration
// only; every call builds its own DatasetResult.
type Engine struct {
	open        Opener
	concurrency int
	chunkSize   int
	retry       resilience.RetryConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpener replaces the mirror opener.
func WithOpener(o Opener) Option {
	return func(e *Engine) { e.open = o }
}

// WithConcurrency sets the number of series checked in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithChunkSize sets the backward-scan chunk size for tail reads.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithRetry sets the retry policy for mirror queries.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// NewEngine creates an Engine with defaults overridden by opts.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		open:        mirror.Open,
		concurrency: DefaultConcurrency,
		chunkSize:   archive.DefaultChunkSize,
		retry:       resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CheckLatest compares the most recent record of every archive series with
// the mirror and reports mirror-only series.
func (e *Engine) CheckLatest(ctx context.Context, spec DatasetSpec) (*DatasetResult, error) {
	return e.run(ctx, spec, ModeLatest, Filter{})
}

// Verify compares record counts and date bounds of every series matching f.
func (e *Engine) Verify(ctx context.Context, spec DatasetSpec, f Filter) (*DatasetResult, error) {
	return e.run(ctx, spec, ModeFull, f)
}

// seriesReport is what one worker produced for one series.
type seriesReport struct {
	outcomes []model.Outcome
	warnings []Warning
}

func (r *seriesReport) warn(s archive.Series, kind WarningKind, err error) {
	r.warnings = append(r.warnings, Warning{Key: s.Key, Kind: kind, Path: s.Path, Message: err.Error()})
}

// run returns a non-nil error only for hard failures that must abort the
// whole invocation. Dataset-level problems are recorded in DatasetResult.Err.
func (e *Engine) run(ctx context.Context, spec DatasetSpec, mode Mode, f Filter) (*DatasetResult, error) {
	log := zap.L().With(
		zap.String("component", "reconcile"),
		zap.String("dataset", string(spec.Dataset)),
		zap.String("mode", string(mode)),
	)
	res := &DatasetResult{
		Dataset:      spec.Dataset,
		Label:        spec.Label,
		Mode:         mode,
		ArchiveRoot:  spec.ArchiveRoot,
		MirrorTarget: spec.MirrorTarget,
	}

	layout := archive.NewLayout(spec.Dataset, spec.ArchiveRoot)
	series, err := layout.Discover(archive.Filter{Symbol: f.Symbol, Interval: f.Interval})
	if err != nil {
		log.Error("archive unavailable", zap.String("root", spec.ArchiveRoot), zap.Error(err))
		res.Err = err
		return res, nil
	}
	log.Info("discovered archive series", zap.Int("series", len(series)))
	if ctx.Err() != nil {
		res.Cancelled = true
		log.Warn("interrupted before opening mirror")
		return res, nil
	}

	m, err := e.open(ctx, spec.Driver, spec.Dataset, spec.MirrorTarget)
	if err != nil {
		if errors.Is(err, mirror.ErrMirrorUnavailable) {
			log.Error("mirror unavailable, treating every series as missing",
				zap.String("mirror", spec.MirrorTarget), zap.Error(err))
			res.Err = err
			res.Checked = len(series)
			for _, s := range series {
				res.Outcomes = append(res.Outcomes, model.MissingFromMirror(s.Key))
			}
			return res, nil
		}
		return nil, eris.Wrapf(err, "reconcile: open mirror for %s", spec.Dataset)
	}
	defer m.Close() //nolint:errcheck

	mf := mirror.Filter{Symbol: f.Symbol, Interval: f.Interval}

	var summaries map[model.SeriesKey]model.SeriesFact
	if mode == ModeFull {
		summaries, err = resilience.DoVal(ctx, e.retryFor(spec, "summaries"),
			func(ctx context.Context) (map[model.SeriesKey]model.SeriesFact, error) {
				return m.Summaries(ctx, mf)
			})
		if err != nil {
			log.Error("mirror summary query failed", zap.Error(err))
			res.Err = eris.Wrapf(err, "reconcile: summaries for %s", spec.Dataset)
			return res, nil
		}
	}

	reports, scheduled := e.fanOut(ctx, series, func(ctx context.Context, s archive.Series) seriesReport {
		if mode == ModeFull {
			return e.verifySeries(ctx, s, summaries)
		}
		return e.checkSeries(ctx, spec, m, s)
	})
	res.Checked = scheduled
	if scheduled < len(series) {
		res.Cancelled = true
		log.Warn("interrupted, stopped scheduling series",
			zap.Int("scheduled", scheduled), zap.Int("total", len(series)))
	}

	for _, r := range reports[:scheduled] {
		res.Outcomes = append(res.Outcomes, r.outcomes...)
		res.Warnings = append(res.Warnings, r.warnings...)
	}

	if !res.Cancelled {
		e.addOrphans(ctx, spec, m, mf, series, summaries, res)
	}

	model.SortOutcomes(res.Outcomes)
	for _, w := range res.Warnings {
		log.Warn("series warning",
			zap.String("symbol", w.Key.Symbol),
			zap.String("interval", string(w.Key.Interval)),
			zap.String("kind", string(w.Kind)),
			zap.String("detail", w.Message),
		)
	}
	log.Info("dataset checked",
		zap.Int("checked", res.Checked),
		zap.Int("discrepancies", len(res.Discrepancies())),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// fanOut runs fn for each series on a bounded pool. Scheduling stops once ctx
// is done; series already started run to completion with cancellation
// detached. Reports are indexed by series position, so merge order does not
// depend on completion order.
func (e *Engine) fanOut(ctx context.Context, series []archive.Series, fn func(context.Context, archive.Series) seriesReport) ([]seriesReport, int) {
	reports := make([]seriesReport, len(series))
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(e.concurrency)

	scheduled := 0
	for i, s := range series {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			reports[i] = fn(work, s)
			return nil
		})
		scheduled++
	}
	_ = g.Wait()
	return reports, scheduled
}

func (e *Engine) checkSeries(ctx context.Context, spec DatasetSpec, m mirror.Mirror, s archive.Series) seriesReport {
	var r seriesReport

	line, err := archive.TailLine(s.Path, e.chunkSize)
	switch {
	case errors.Is(err, archive.ErrSeriesAbsent):
		zap.L().Debug("series file vanished", zap.String("path", s.Path))
		return r
	case errors.Is(err, archive.ErrNoDataFound):
		r.warn(s, WarnNoData, err)
		return r
	case err != nil:
		r.warn(s, WarnArchiveRead, err)
		return r
	}

	rec, err := archive.ParseRecord(line, s.Key.Interval)
	if err != nil {
		r.warn(s, WarnMalformedRecord, err)
		return r
	}
	archiveFact := rec.Fact()

	mirrorFact, err := resilience.DoVal(ctx, e.retryFor(spec, "latest"),
		func(ctx context.Context) (*model.SeriesFact, error) {
			return m.Latest(ctx, s.Key.Symbol, s.Key.Interval)
		})
	if err != nil {
		r.warn(s, WarnMirrorQuery, err)
		return r
	}

	r.outcomes = append(r.outcomes, CompareLatest(s.Key, &archiveFact, mirrorFact))
	return r
}

func (e *Engine) verifySeries(ctx context.Context, s archive.Series, summaries map[model.SeriesKey]model.SeriesFact) seriesReport {
	var r seriesReport

	agg, err := archive.Aggregate(ctx, s.Path, s.Key.Interval)
	switch {
	case errors.Is(err, archive.ErrSeriesAbsent):
		zap.L().Debug("series file vanished", zap.String("path", s.Path))
		return r
	case err != nil:
		r.warn(s, WarnArchiveRead, err)
		return r
	}
	if agg.SkippedTimestamps > 0 {
		r.warn(s, WarnBadTimestamps, eris.Errorf("%d rows with unparsable timestamps, first %q",
			agg.SkippedTimestamps, agg.FirstBadTimestamp))
	}
	if agg.MalformedRows > 0 {
		r.warn(s, WarnMalformedRecord, eris.Wrapf(archive.ErrMalformedRecord, "%d lines with unbalanced quotes, first at line %d",
			agg.MalformedRows, agg.FirstMalformedLine))
	}

	var mirrorFact *model.SeriesFact
	if fact, ok := summaries[s.Key]; ok {
		mirrorFact = &fact
	}
	if agg.Fact.RecordCount == 0 && mirrorFact == nil {
		r.warn(s, WarnNoData, archive.ErrNoDataFound)
		return r
	}

	r.outcomes = append(r.outcomes, CompareFull(s.Key, &agg.Fact, mirrorFact)...)
	return r
}

// addOrphans appends MissingFromArchive for series only the mirror holds.
func (e *Engine) addOrphans(ctx context.Context, spec DatasetSpec, m mirror.Mirror, mf mirror.Filter,
	series []archive.Series, summaries map[model.SeriesKey]model.SeriesFact, res *DatasetResult,
) {
	inArchive := make(map[model.SeriesKey]bool, len(series))
	for _, s := range series {
		inArchive[s.Key] = true
	}

	var keys []model.SeriesKey
	if summaries != nil {
		for k := range summaries {
			keys = append(keys, k)
		}
	} else {
		var err error
		keys, err = resilience.DoVal(ctx, e.retryFor(spec, "keys"),
			func(ctx context.Context) ([]model.SeriesKey, error) {
				return m.Keys(ctx, mf)
			})
		if err != nil {
			res.Warnings = append(res.Warnings, Warning{
				Kind:    WarnMirrorQuery,
				Message: eris.Wrap(err, "reconcile: list mirror series").Error(),
			})
			return
		}
	}

	for _, k := range keys {
		if inArchive[k] {
			continue
		}
		zap.L().Warn("series found in mirror but missing from archive",
			zap.String("dataset", string(spec.Dataset)),
			zap.String("symbol", k.Symbol),
			zap.String("interval", string(k.Interval)),
		)
		res.Outcomes = append(res.Outcomes, model.MissingFromArchive(k))
	}
}

func (e *Engine) retryFor(spec DatasetSpec, operation string) resilience.RetryConfig {
	cfg := e.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(string(spec.Dataset), operation)
	}
	return cfg
}
