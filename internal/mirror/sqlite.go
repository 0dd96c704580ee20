package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// SQLiteMirror reads a single-file SQLite mirror using modernc.org/sqlite.
type SQLiteMirror struct {
	db      *sql.DB
	dataset model.Dataset
	path    string
}

// OpenSQLite opens the mirror file read-only. A missing file is reported as
// ErrMirrorUnavailable; a file without the market_data table as ErrSchemaMissing.
func OpenSQLite(ctx context.Context, ds model.Dataset, path string) (*SQLiteMirror, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(ErrMirrorUnavailable, "mirror: stat %s", path)
		}
		return nil, eris.Wrapf(err, "mirror: stat %s", path)
	}
	if info.IsDir() {
		return nil, eris.Wrapf(ErrMirrorUnavailable, "mirror: %s is a directory", path)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrapf(ErrMirrorUnavailable, "mirror: open %s: %v", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(ErrMirrorUnavailable, "mirror: ping %s: %v", path, err)
	}

	m := &SQLiteMirror{db: db, dataset: ds, path: path}
	if err := m.checkSchema(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return m, nil
}

func (m *SQLiteMirror) checkSchema(ctx context.Context) error {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, Table,
	).Scan(&n)
	if err != nil {
		return eris.Wrapf(ErrMirrorUnavailable, "mirror: inspect schema of %s: %v", m.path, err)
	}
	if n == 0 {
		return eris.Wrapf(ErrSchemaMissing, "mirror: %s", m.path)
	}
	return nil
}

// Latest returns the newest row of the series.
func (m *SQLiteMirror) Latest(ctx context.Context, symbol string, iv model.Interval) (*model.SeriesFact, error) {
	var (
		raw     sql.NullString
		closePx sql.NullFloat64
		volume  sql.NullInt64
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT CAST(timestamp AS TEXT), close, volume FROM market_data
		 WHERE ticker = ? AND interval = ?
		 ORDER BY timestamp DESC LIMIT 1`,
		symbol, string(iv),
	).Scan(&raw, &closePx, &volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mirror: latest %s/%s", symbol, iv)
	}
	return latestFact(symbol, iv, raw.String, closePx.Float64, volume.Int64)
}

// Summaries returns count and bounds per series in one grouped query.
func (m *SQLiteMirror) Summaries(ctx context.Context, f Filter) (map[model.SeriesKey]model.SeriesFact, error) {
	where, args := whereClause(f, sqlitePlaceholder)
	rows, err := m.db.QueryContext(ctx,
		`SELECT ticker, interval, COUNT(*), CAST(MIN(timestamp) AS TEXT), CAST(MAX(timestamp) AS TEXT)
		 FROM market_data`+where+`
		 GROUP BY ticker, interval`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "mirror: summaries")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[model.SeriesKey]model.SeriesFact)
	for rows.Next() {
		var (
			ticker, interval string
			count            int64
			minTS, maxTS     sql.NullString
		)
		if err := rows.Scan(&ticker, &interval, &count, &minTS, &maxTS); err != nil {
			return nil, eris.Wrap(err, "mirror: scan summary")
		}
		key, ok := seriesKey(m.dataset, ticker, interval)
		if !ok {
			continue
		}
		fact, err := summaryFact(key, count, minTS.String, maxTS.String)
		if err != nil {
			return nil, err
		}
		out[key] = fact
	}
	return out, eris.Wrap(rows.Err(), "mirror: iterate summaries")
}

// Keys lists the distinct series present in the mirror.
func (m *SQLiteMirror) Keys(ctx context.Context, f Filter) ([]model.SeriesKey, error) {
	where, args := whereClause(f, sqlitePlaceholder)
	rows, err := m.db.QueryContext(ctx,
		`SELECT DISTINCT ticker, interval FROM market_data`+where+` ORDER BY ticker, interval`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "mirror: keys")
	}
	defer rows.Close() //nolint:errcheck

	var keys []model.SeriesKey
	for rows.Next() {
		var ticker, interval string
		if err := rows.Scan(&ticker, &interval); err != nil {
			return nil, eris.Wrap(err, "mirror: scan key")
		}
		if key, ok := seriesKey(m.dataset, ticker, interval); ok {
			keys = append(keys, key)
		}
	}
	return keys, eris.Wrap(rows.Err(), "mirror: iterate keys")
}

// Totals returns distinct symbols and row counts per interval.
func (m *SQLiteMirror) Totals(ctx context.Context) (map[model.Interval]IntervalTotals, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT interval, COUNT(DISTINCT ticker), COUNT(*) FROM market_data GROUP BY interval`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "mirror: totals")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[model.Interval]IntervalTotals)
	for rows.Next() {
		var (
			interval string
			t        IntervalTotals
		)
		if err := rows.Scan(&interval, &t.Symbols, &t.Records); err != nil {
			return nil, eris.Wrap(err, "mirror: scan totals")
		}
		if _, ok := seriesKey(m.dataset, "", interval); ok {
			out[model.Interval(interval)] = t
		}
	}
	return out, eris.Wrap(rows.Err(), "mirror: iterate totals")
}

// Close releases the underlying connection pool.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}
