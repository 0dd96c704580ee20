package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/archive"
	"github.com/aipriceaction/mirrorsync/internal/mirror"
	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const header = "ticker,time,open,high,low,close,volume\n"

func writeSeries(t *testing.T, root, symbol string, iv model.Interval, rows ...string) {
	t.Helper()
	path := filepath.Join(root, symbol, iv.FileName())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(header+strings.Join(rows, "\n")+"\n"), 0o644))
}

func row(symbol, ts string) string {
	return fmt.Sprintf("%s,%s,1,2,0.5,1.5,100", symbol, ts)
}

// fakeMirror is an in-memory Mirror.
type fakeMirror struct {
	dataset   model.Dataset
	latest    map[model.SeriesKey]*model.SeriesFact
	summaries map[model.SeriesKey]model.SeriesFact

	busyFailures atomic.Int32
	delay        time.Duration
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
	closed       atomic.Bool
}

func newFakeMirror(ds model.Dataset) *fakeMirror {
	return &fakeMirror{
		dataset:   ds,
		latest:    make(map[model.SeriesKey]*model.SeriesFact),
		summaries: make(map[model.SeriesKey]model.SeriesFact),
	}
}

func (f *fakeMirror) setLatest(sym string, iv model.Interval, s string) {
	f.latest[model.SeriesKey{Dataset: f.dataset, Symbol: sym, Interval: iv}] = latestFact(s)
}

func (f *fakeMirror) Latest(_ context.Context, symbol string, iv model.Interval) (*model.SeriesFact, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.busyFailures.Add(-1) >= 0 {
		return nil, errors.New("database is locked (5) (SQLITE_BUSY)")
	}
	return f.latest[model.SeriesKey{Dataset: f.dataset, Symbol: symbol, Interval: iv}], nil
}

func (f *fakeMirror) Summaries(context.Context, mirror.Filter) (map[model.SeriesKey]model.SeriesFact, error) {
	return f.summaries, nil
}

func (f *fakeMirror) Keys(_ context.Context, flt mirror.Filter) ([]model.SeriesKey, error) {
	var keys []model.SeriesKey
	for k := range f.latest {
		if flt.Symbol != "" && k.Symbol != flt.Symbol {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

func (f *fakeMirror) Totals(context.Context) (map[model.Interval]mirror.IntervalTotals, error) {
	return nil, nil
}

func (f *fakeMirror) Close() error {
	f.closed.Store(true)
	return nil
}

func openerFor(m mirror.Mirror) Opener {
	return func(context.Context, string, model.Dataset, string) (mirror.Mirror, error) {
		return m, nil
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

type kindByKey struct {
	Key  string
	Kind model.OutcomeKind
}

func kinds(outcomes []model.Outcome) []kindByKey {
	out := make([]kindByKey, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, kindByKey{o.Key.String(), o.Kind})
	}
	return out
}

func TestCheckLatest_ClassifiesEverySeries(t *testing.T) {
	root := t.TempDir()
	writeSeries(t, root, "ABC", model.Daily, row("ABC", "2024-06-07"), row("ABC", "2024-06-10"))
	writeSeries(t, root, "DEF", model.Daily, row("DEF", "2024-06-10"))
	writeSeries(t, root, "GHI", model.Daily, row("GHI", "2024-06-10"))
	writeSeries(t, root, "JKL", model.Hourly, row("JKL", "2024-06-10T09:00:00"))
	writeSeries(t, root, "MNO", model.Minute, row("MNO", "2024-06-11 00:01:00"))
	writeSeries(t, root, "EMPTY", model.Daily)
	writeSeries(t, root, "BAD", model.Daily, "BAD,2024-06-10,1,2")

	fm := newFakeMirror(model.DatasetPrimary)
	fm.setLatest("DEF", model.Daily, "2024-06-09")
	fm.setLatest("GHI", model.Daily, "2024-06-08")
	fm.setLatest("JKL", model.Hourly, "2024-06-10 15:00:00")
	fm.setLatest("MNO", model.Minute, "2024-06-10 23:59:00")
	fm.setLatest("ZZZ", model.Daily, "2024-06-10")

	e := NewEngine(WithOpener(openerFor(fm)))
	res, err := e.CheckLatest(context.Background(), DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	want := []kindByKey{
		{"ABC/1D", model.OutcomeMissingFromMirror},
		{"DEF/1D", model.OutcomeInSync},
		{"GHI/1D", model.OutcomeOutdated},
		{"JKL/1H", model.OutcomeInSync},
		{"MNO/1m", model.OutcomeOutdated},
		{"ZZZ/1D", model.OutcomeMissingFromArchive},
	}
	if diff := cmp.Diff(want, kinds(res.Outcomes)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, res.Warnings, 2)
	byKind := map[WarningKind]string{}
	for _, w := range res.Warnings {
		byKind[w.Kind] = w.Key.Symbol
	}
	assert.Equal(t, "BAD", byKind[WarnMalformedRecord])
	assert.Equal(t, "EMPTY", byKind[WarnNoData])

	assert.Equal(t, 7, res.Checked)
	assert.False(t, res.Clean())
	assert.True(t, fm.closed.Load())
}

func TestCheckLatest_AllInSync(t *testing.T) {
	root := t.TempDir()
	fm := newFakeMirror(model.DatasetSecondary)
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		writeSeries(t, root, sym, model.Daily, row(sym, "2024-06-10"))
		fm.setLatest(sym, model.Daily, "2024-06-10")
	}

	res, err := NewEngine(WithOpener(openerFor(fm))).
		CheckLatest(context.Background(), DatasetSpec{Dataset: model.DatasetSecondary, ArchiveRoot: root})
	require.NoError(t, err)
	assert.Empty(t, res.Discrepancies())
	assert.True(t, res.Clean())
}

func TestCheckLatest_MirrorUnavailableOnlyAffectsItsDataset(t *testing.T) {
	primaryRoot := t.TempDir()
	for i := range 50 {
		sym := fmt.Sprintf("S%02d", i)
		writeSeries(t, primaryRoot, sym, model.Daily, row(sym, "2024-06-10"))
	}
	secondaryRoot := t.TempDir()
	writeSeries(t, secondaryRoot, "BTCUSDT", model.Daily, row("BTCUSDT", "2024-06-10"))

	secondary := newFakeMirror(model.DatasetSecondary)
	secondary.setLatest("BTCUSDT", model.Daily, "2024-06-10")

	opener := func(ctx context.Context, driver string, ds model.Dataset, target string) (mirror.Mirror, error) {
		if ds == model.DatasetSecondary {
			return secondary, nil
		}
		return mirror.Open(ctx, driver, ds, target)
	}
	e := NewEngine(WithOpener(opener))

	primary, err := e.CheckLatest(context.Background(), DatasetSpec{
		Dataset:      model.DatasetPrimary,
		ArchiveRoot:  primaryRoot,
		Driver:       mirror.DriverSQLite,
		MirrorTarget: filepath.Join(t.TempDir(), "market_data.db"),
	})
	require.NoError(t, err)
	assert.True(t, errors.Is(primary.Err, mirror.ErrMirrorUnavailable))
	require.Len(t, primary.Outcomes, 50)
	for _, o := range primary.Outcomes {
		assert.Equal(t, model.OutcomeMissingFromMirror, o.Kind)
	}

	other, err := e.CheckLatest(context.Background(), DatasetSpec{Dataset: model.DatasetSecondary, ArchiveRoot: secondaryRoot})
	require.NoError(t, err)
	assert.NoError(t, other.Err)
	assert.True(t, other.Clean())
}

func TestCheckLatest_ArchiveUnavailable(t *testing.T) {
	fm := newFakeMirror(model.DatasetPrimary)
	res, err := NewEngine(WithOpener(openerFor(fm))).CheckLatest(context.Background(), DatasetSpec{
		Dataset:     model.DatasetPrimary,
		ArchiveRoot: filepath.Join(t.TempDir(), "missing"),
	})
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Empty(t, res.Outcomes)
	assert.False(t, res.Clean())
}

func TestCheckLatest_SchemaMissingIsHardFailure(t *testing.T) {
	root := t.TempDir()
	writeSeries(t, root, "ABC", model.Daily, row("ABC", "2024-06-10"))

	opener := func(context.Context, string, model.Dataset, string) (mirror.Mirror, error) {
		return nil, eris.Wrap(mirror.ErrSchemaMissing, "mirror: test.db")
	}
	res, err := NewEngine(WithOpener(opener)).CheckLatest(context.Background(), DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, mirror.ErrSchemaMissing))
}

func TestCheckLatest_RetriesBusyMirror(t *testing.T) {
	root := t.TempDir()
	writeSeries(t, root, "ABC", model.Daily, row("ABC", "2024-06-10"))
	fm := newFakeMirror(model.DatasetPrimary)
	fm.setLatest("ABC", model.Daily, "2024-06-10")
	fm.busyFailures.Store(2)

	res, err := NewEngine(WithOpener(openerFor(fm)), WithRetry(fastRetry())).
		CheckLatest(context.Background(), DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []kindByKey{{"ABC/1D", model.OutcomeInSync}}, kinds(res.Outcomes))
}

func TestCheckLatest_PersistentBusyBecomesWarning(t *testing.T) {
	root := t.TempDir()
	writeSeries(t, root, "ABC", model.Daily, row("ABC", "2024-06-10"))
	fm := newFakeMirror(model.DatasetPrimary)
	fm.busyFailures.Store(100)

	res, err := NewEngine(WithOpener(openerFor(fm)), WithRetry(fastRetry())).
		CheckLatest(context.Background(), DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnMirrorQuery, res.Warnings[0].Kind)
	assert.Empty(t, res.Outcomes)
}

func TestCheckLatest_BoundedConcurrencyAndDeterministicOrder(t *testing.T) {
	root := t.TempDir()
	fm := newFakeMirror(model.DatasetPrimary)
	fm.delay = 5 * time.Millisecond
	for i := range 20 {
		sym := fmt.Sprintf("S%02d", i)
		writeSeries(t, root, sym, model.Daily, row(sym, "2024-06-10"))
		if i%3 != 0 {
			fm.setLatest(sym, model.Daily, "2024-06-10")
		}
	}
	spec := DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root}

	e := NewEngine(WithOpener(openerFor(fm)), WithConcurrency(2))
	first, err := e.CheckLatest(context.Background(), spec)
	require.NoError(t, err)
	assert.LessOrEqual(t, fm.maxInFlight.Load(), int32(2))

	serial, err := NewEngine(WithOpener(openerFor(fm)), WithConcurrency(1)).CheckLatest(context.Background(), spec)
	require.NoError(t, err)
	if diff := cmp.Diff(kinds(serial.Outcomes), kinds(first.Outcomes)); diff != "" {
		t.Errorf("order depends on concurrency (-serial +parallel):\n%s", diff)
	}
	assert.Len(t, first.OutcomesOf(model.OutcomeMissingFromMirror), 7)
}

func TestCheckLatest_CancelledStopsScheduling(t *testing.T) {
	root := t.TempDir()
	for i := range 10 {
		sym := fmt.Sprintf("S%02d", i)
		writeSeries(t, root, sym, model.Daily, row(sym, "2024-06-10"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fm := newFakeMirror(model.DatasetPrimary)
	res, err := NewEngine(WithOpener(openerFor(fm))).CheckLatest(ctx, DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Zero(t, res.Checked)
	assert.Empty(t, res.Outcomes)
	assert.False(t, res.Clean())
}

func TestFanOut_InFlightSeriesFinishAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(WithConcurrency(1))

	var (
		mu   sync.Mutex
		seen []error
	)
	series := make([]archive.Series, 5)
	reports, scheduled := e.fanOut(ctx, series, func(ctx context.Context, _ archive.Series) seriesReport {
		cancel()
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen = append(seen, ctx.Err())
		mu.Unlock()
		return seriesReport{}
	})
	assert.Len(t, reports, 5)
	assert.Less(t, scheduled, 5)
	for _, err := range seen {
		assert.NoError(t, err)
	}
}

func TestVerify_CountAndBounds(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []string
	for i := range 100 {
		rows = append(rows, row("ABC", start.AddDate(0, 0, i).Format(time.DateOnly)))
	}
	writeSeries(t, root, "ABC", model.Daily, rows...)
	writeSeries(t, root, "DEF", model.Daily, row("DEF", "2024-01-01"), row("DEF", "2024-01-02"))
	writeSeries(t, root, "NEW", model.Hourly, row("NEW", "2024-01-01 09:00:00"))

	abc := key("ABC", model.Daily)
	def := key("DEF", model.Daily)
	orphan := key("OLD", model.Minute)
	fm := newFakeMirror(model.DatasetPrimary)
	fm.summaries[abc] = model.SeriesFact{RecordCount: 98, Earliest: &start, Latest: ts("2024-04-09")}
	fm.summaries[def] = model.SeriesFact{RecordCount: 2, Earliest: ts("2024-01-01"), Latest: ts("2024-01-02")}
	fm.summaries[orphan] = model.SeriesFact{RecordCount: 1, Earliest: ts("2024-01-01"), Latest: ts("2024-01-01")}

	res, err := NewEngine(WithOpener(openerFor(fm))).
		Verify(context.Background(), DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root}, Filter{})
	require.NoError(t, err)

	want := []model.Outcome{
		model.CountMismatch(abc, 100, 98),
		model.InSync(def),
		model.MissingFromMirror(key("NEW", model.Hourly)),
		model.MissingFromArchive(orphan),
	}
	if diff := cmp.Diff(want, res.Outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestVerify_BadTimestampsWarn(t *testing.T) {
	root := t.TempDir()
	writeSeries(t, root, "ABC", model.Daily, row("ABC", "2024-01-01"), row("ABC", "01/02/2024"))
	fm := newFakeMirror(model.DatasetPrimary)
	fm.summaries[key("ABC", model.Daily)] = model.SeriesFact{RecordCount: 2, Earliest: ts("2024-01-01"), Latest: ts("2024-01-01")}

	res, err := NewEngine(WithOpener(openerFor(fm))).
		Verify(context.Background(), DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root}, Filter{Symbol: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, []kindByKey{{"ABC/1D", model.OutcomeInSync}}, kinds(res.Outcomes))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnBadTimestamps, res.Warnings[0].Kind)
	assert.Contains(t, res.Warnings[0].Message, "01/02/2024")
}

func TestVerify_UnbalancedQuoteWarns(t *testing.T) {
	root := t.TempDir()
	writeSeries(t, root, "ABC", model.Daily,
		row("ABC", "2024-01-01"), `"`+row("ABC", "2024-01-02"), row("ABC", "2024-01-03"))
	fm := newFakeMirror(model.DatasetPrimary)
	fm.summaries[key("ABC", model.Daily)] = model.SeriesFact{RecordCount: 3, Earliest: ts("2024-01-01"), Latest: ts("2024-01-03")}

	res, err := NewEngine(WithOpener(openerFor(fm))).
		Verify(context.Background(), DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root}, Filter{Symbol: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, []kindByKey{{"ABC/1D", model.OutcomeInSync}}, kinds(res.Outcomes))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnMalformedRecord, res.Warnings[0].Kind)
	assert.Contains(t, res.Warnings[0].Message, "first at line 3")
}

func TestVerify_RealSQLiteMirror(t *testing.T) {
	root := t.TempDir()
	writeSeries(t, root, "ABC", model.Daily, row("ABC", "2024-06-07"), row("ABC", "2024-06-10"))
	writeSeries(t, root, "ABC", model.Hourly, row("ABC", "2024-06-10T09:00:00"))

	dbPath := filepath.Join(t.TempDir(), "market_data.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE market_data (ticker TEXT, interval TEXT, timestamp DATETIME, close REAL, volume INTEGER)`)
	require.NoError(t, err)
	for _, tsv := range []string{"2024-06-07T00:00:00Z", "2024-06-10T00:00:00+07:00"} {
		_, err = db.Exec(`INSERT INTO market_data VALUES ('ABC', '1D', ?, 1.5, 100)`, tsv)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	spec := DatasetSpec{Dataset: model.DatasetPrimary, ArchiveRoot: root, Driver: mirror.DriverSQLite, MirrorTarget: dbPath}
	e := NewEngine()

	full, err := e.Verify(context.Background(), spec, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []kindByKey{
		{"ABC/1D", model.OutcomeInSync},
		{"ABC/1H", model.OutcomeMissingFromMirror},
	}, kinds(full.Outcomes))

	latest, err := e.CheckLatest(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, kinds(full.Outcomes), kinds(latest.Outcomes))
}
