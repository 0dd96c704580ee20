package mirror

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/aipriceaction/mirrorsync/internal/db"
	"github.com/aipriceaction/mirrorsync/internal/model"
)

// PostgresMirror reads a market_data table hosted in Postgres.
type PostgresMirror struct {
	pool    db.Pool
	dataset model.Dataset
}

// OpenPostgres connects with a pgx pool and verifies the schema.
func OpenPostgres(ctx context.Context, ds model.Dataset, connString string) (*PostgresMirror, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrapf(ErrMirrorUnavailable, "mirror: connect postgres: %v", err)
	}
	m, err := NewPostgres(ctx, pool, ds)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// NewPostgres wraps an existing pool. The pool is pinged and the market_data
// table must exist.
func NewPostgres(ctx context.Context, pool db.Pool, ds model.Dataset) (*PostgresMirror, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, eris.Wrapf(ErrMirrorUnavailable, "mirror: ping postgres: %v", err)
	}
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, Table).Scan(&exists); err != nil {
		return nil, eris.Wrapf(ErrMirrorUnavailable, "mirror: inspect postgres schema: %v", err)
	}
	if !exists {
		return nil, eris.Wrap(ErrSchemaMissing, "mirror: postgres")
	}
	return &PostgresMirror{pool: pool, dataset: ds}, nil
}

// Latest returns the newest row of the series.
func (m *PostgresMirror) Latest(ctx context.Context, symbol string, iv model.Interval) (*model.SeriesFact, error) {
	var (
		raw     string
		closePx float64
		volume  int64
	)
	err := m.pool.QueryRow(ctx,
		`SELECT timestamp::text, COALESCE(close, 0), COALESCE(volume, 0) FROM market_data
		 WHERE ticker = $1 AND interval = $2
		 ORDER BY timestamp DESC LIMIT 1`,
		symbol, string(iv),
	).Scan(&raw, &closePx, &volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mirror: latest %s/%s", symbol, iv)
	}
	return latestFact(symbol, iv, raw, closePx, volume)
}

// Summaries returns count and bounds per series in one grouped query.
func (m *PostgresMirror) Summaries(ctx context.Context, f Filter) (map[model.SeriesKey]model.SeriesFact, error) {
	where, args := whereClause(f, postgresPlaceholder)
	rows, err := m.pool.Query(ctx,
		`SELECT ticker, interval, COUNT(*), COALESCE(MIN(timestamp)::text, ''), COALESCE(MAX(timestamp)::text, '')
		 FROM market_data`+where+`
		 GROUP BY ticker, interval`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "mirror: summaries")
	}
	defer rows.Close()

	out := make(map[model.SeriesKey]model.SeriesFact)
	for rows.Next() {
		var (
			ticker, interval string
			count            int64
			minTS, maxTS     string
		)
		if err := rows.Scan(&ticker, &interval, &count, &minTS, &maxTS); err != nil {
			return nil, eris.Wrap(err, "mirror: scan summary")
		}
		key, ok := seriesKey(m.dataset, ticker, interval)
		if !ok {
			continue
		}
		fact, err := summaryFact(key, count, minTS, maxTS)
		if err != nil {
			return nil, err
		}
		out[key] = fact
	}
	return out, eris.Wrap(rows.Err(), "mirror: iterate summaries")
}

// Keys lists the distinct series present in the mirror.
func (m *PostgresMirror) Keys(ctx context.Context, f Filter) ([]model.SeriesKey, error) {
	where, args := whereClause(f, postgresPlaceholder)
	rows, err := m.pool.Query(ctx,
		`SELECT DISTINCT ticker, interval FROM market_data`+where+` ORDER BY ticker, interval`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "mirror: keys")
	}
	defer rows.Close()

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
func (m *PostgresMirror) Totals(ctx context.Context) (map[model.Interval]IntervalTotals, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT interval, COUNT(DISTINCT ticker), COUNT(*) FROM market_data GROUP BY interval`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "mirror: totals")
	}
	defer rows.Close()

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

// Close closes the pool.
func (m *PostgresMirror) Close() error {
	m.pool.Close()
	return nil
}
