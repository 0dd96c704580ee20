package migrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// Defaults for the external migration tool.
const (
	DefaultBinary    = "./target/release/migrate_to_sqlite"
	DefaultBatchSize = 1000
	DefaultTimeout   = 300 * time.Second
)

// ErrMigrationTimeout means the migration process exceeded its time budget.
var ErrMigrationTimeout = eris.New("migrate: timed out")

// Migrator re-ingests one batch of archive series into the mirror.
type Migrator interface {
	Migrate(ctx context.Context, batch model.MigrationBatch) error
}

// ProcessError is a migration process that exited non-zero.
type ProcessError struct {
	Interval model.Interval
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("migrate: %s exited with status %d", e.Interval, e.ExitCode)
	}
	return fmt.Sprintf("migrate: %s exited with status %d: %s", e.Interval, e.ExitCode, e.Stderr)
}

// ExecMigrator runs the migration tool as a subprocess.
type ExecMigrator struct {
	Binary    string
	BatchSize int
	Timeout   time.Duration
}

// NewExecMigrator creates an ExecMigrator, falling back to the defaults for
// zero values.
func NewExecMigrator(binary string, batchSize int, timeout time.Duration) *ExecMigrator {
	if binary == "" {
		binary = DefaultBinary
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecMigrator{Binary: binary, BatchSize: batchSize, Timeout: timeout}
}

// Args returns the command-line flags for a batch.
func (m *ExecMigrator) Args(batch model.MigrationBatch) []string {
	return []string{
		"--csv-dir", batch.SourceDir,
		"--db", batch.TargetMirror,
		"--batch-size", strconv.Itoa(m.BatchSize),
		"--interval", batch.Interval.MigrationToken(),
	}
}

// Migrate runs the tool for one batch. The process is not tied to ctx's
// cancellation: once started it runs until it exits or Timeout elapses.
func (m *ExecMigrator) Migrate(ctx context.Context, batch model.MigrationBatch) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, m.Binary, m.Args(batch)...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := zap.L().With(
		zap.String("component", "migrate"),
		zap.String("dataset", string(batch.Dataset)),
		zap.String("interval", string(batch.Interval)),
	)
	log.Info("running migration", zap.String("binary", m.Binary), zap.Strings("args", m.Args(batch)))

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return eris.Wrapf(ErrMigrationTimeout, "migrate: %s after %s", batch.Interval, m.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ProcessError{
				Interval: batch.Interval,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return eris.Wrapf(err, "migrate: start %s", m.Binary)
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		log.Debug("migration output", zap.String("stdout", out))
	}
	return nil
}
