// Package mirror queries the relational copy of the archive. It only reads;
// the mirror is written exclusively by the external migration tool.
package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

var (
	// ErrMirrorUnavailable means the mirror file or database cannot be reached.
	ErrMirrorUnavailable = eris.New("mirror: unavailable")
	// ErrSchemaMissing means the mirror exists but lacks the market_data table.
	ErrSchemaMissing = eris.New("mirror: market_data table missing")
)

// Table is the wide table keyed by (ticker, interval, timestamp).
const Table = "market_data"

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Filter scopes a query by symbol and/or interval. Zero values match all.
type Filter struct {
	Symbol   string
	Interval model.Interval
}

// IntervalTotals summarizes the mirror's contents for one interval.
type IntervalTotals struct {
	Symbols int64 `json:"symbols"`
	Records int64 `json:"records"`
}

// Mirror is the read-only query surface over one dataset's mirror.
type Mirror interface {
	// Latest returns the most recent row for the series, or nil if it has none.
	Latest(ctx context.Context, symbol string, iv model.Interval) (*model.SeriesFact, error)

	// Summaries returns count and timestamp bounds per series in one grouped query.
	Summaries(ctx context.Context, f Filter) (map[model.SeriesKey]model.SeriesFact, error)

	// Keys lists the series that have at least one row.
	Keys(ctx context.Context, f Filter) ([]model.SeriesKey, error)

	// Totals returns distinct symbols and row counts per interval.
	Totals(ctx context.Context) (map[model.Interval]IntervalTotals, error)

	Close() error
}

// Open connects to a dataset's mirror with the configured driver. For sqlite,
// target is a file path; for postgres, a connection string.
func Open(ctx context.Context, driver string, ds model.Dataset, target string) (Mirror, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, ds, target)
	case DriverPostgres:
		return OpenPostgres(ctx, ds, target)
	default:
		return nil, eris.Errorf("mirror: unknown driver %q", driver)
	}
}

// whereClause builds the optional symbol/interval predicates. placeholder
// renders the n-th (1-based) bind parameter for the target dialect.
func whereClause(f Filter, placeholder func(n int) string) (string, []any) {
	var (
		parts []string
		args  []any
	)
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		parts = append(parts, "ticker = "+placeholder(len(args)))
	}
	if f.Interval != "" {
		args = append(args, string(f.Interval))
		parts = append(parts, "interval = "+placeholder(len(args)))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// seriesKey converts a mirror row's ticker/interval into a key. Rows with an
// interval outside the known set are reported as not ok.
func seriesKey(ds model.Dataset, ticker, interval string) (model.SeriesKey, bool) {
	iv, err := model.ParseInterval(interval)
	if err != nil || string(iv) != interval {
		return model.SeriesKey{}, false
	}
	return model.SeriesKey{Dataset: ds, Symbol: ticker, Interval: iv}, true
}
