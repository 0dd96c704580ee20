// Package runlog records each reconciliation run in a small SQLite database
// kept apart from the mirror.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/reconcile"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Entry is one row of the runs table.
type Entry struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Datasets    []string   `json:"datasets"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     *Summary   `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Summary is the aggregate outcome stored with a completed run.
type Summary struct {
	Checked          int  `json:"checked"`
	Discrepancies    int  `json:"discrepancies"`
	Resolved         int  `json:"resolved"`
	Warnings         int  `json:"warnings"`
	MigrationsFailed int  `json:"migrations_failed"`
	Clean            bool `json:"clean"`
}

// SummaryOf aggregates a finished run.
func SummaryOf(run *reconcile.Run) Summary {
	s := Summary{Clean: run.Clean()}
	for _, d := range run.Datasets {
		s.Checked += d.Checked
		s.Discrepancies += len(d.Discrepancies())
		s.Warnings += len(d.Warnings)
		for _, m := range d.Migrations {
			switch {
			case m.Resolved():
				s.Resolved += len(m.Batch.Keys)
			case m.Status != model.MigrationSkipped:
				s.MigrationsFailed++
			}
		}
	}
	return s
}

// Log reads and writes the runs table.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	datasets     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	summary      TEXT,
	error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Open opens (creating if needed) the run log at path.
func Open(ctx context.Context, path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "runlog: create %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "runlog: migrate")
	}
	return &Log{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Start records a running run and returns its ID.
func (l *Log) Start(ctx context.Context, mode reconcile.Mode, datasets []model.Dataset) (string, error) {
	id := uuid.NewString()
	names := make([]string, len(datasets))
	for i, d := range datasets {
		names[i] = string(d)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, datasets, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(mode), strings.Join(names, ","), StatusRunning, formatTime(l.now()),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s run", mode)
	}
	return id, nil
}

// Complete marks a run finished and stores its summary.
func (l *Log) Complete(ctx context.Context, id string, s Summary) error {
	summary, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal summary")
	}
	_, err = l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, summary = ? WHERE id = ?`,
		StatusComplete, formatTime(l.now()), string(summary), id,
	)
	return eris.Wrapf(err, "runlog: complete run %s", id)
}

// Fail marks a run failed with an error message.
func (l *Log) Fail(ctx context.Context, id, msg string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		StatusFailed, formatTime(l.now()), msg, id,
	)
	return eris.Wrapf(err, "runlog: fail run %s", id)
}

// ListAll returns up to limit runs, most recent first. limit <= 0 returns all.
func (l *Log) ListAll(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, mode, datasets, status, started_at, completed_at, summary, error
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list all")
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var (
			e                      Entry
			datasets, started      string
			completed, sum, errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Mode, &datasets, &e.Status, &started, &completed, &sum, &errMsg); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if datasets != "" {
			e.Datasets = strings.Split(datasets, ",")
		}
		if e.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			t, err := parseTime(completed.String)
			if err != nil {
				return nil, err
			}
			e.CompletedAt = &t
		}
		if sum.Valid {
			var s Summary
			if err := json.Unmarshal([]byte(sum.String), &s); err == nil {
				e.Summary = &s
			}
		}
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "runlog: parse time %q", s)
	}
	return t, nil
}
