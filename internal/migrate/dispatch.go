package migrate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// Dispatcher runs migration batches strictly one after another.
type Dispatcher struct {
	migrator Migrator
}

// NewDispatcher creates a Dispatcher around m.
func NewDispatcher(m Migrator) *Dispatcher {
	return &Dispatcher{migrator: m}
}

// Dispatch runs every batch in order and returns one result per batch. A
// failed batch does not stop later ones; nothing is retried. Once ctx is
// done, remaining batches are marked skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, batches []model.MigrationBatch) []model.MigrationResult {
	results := make([]model.MigrationResult, 0, len(batches))
	for _, b := range batches {
		log := zap.L().With(
			zap.String("component", "migrate"),
			zap.String("dataset", string(b.Dataset)),
			zap.String("interval", string(b.Interval)),
			zap.Int("series", len(b.Keys)),
		)

		if err := ctx.Err(); err != nil {
			log.Warn("skipping migration batch", zap.Error(err))
			results = append(results, model.MigrationResult{
				Batch:  b,
				Status: model.MigrationSkipped,
				Error:  "interrupted before start",
			})
			continue
		}

		start := time.Now()
		err := d.migrator.Migrate(ctx, b)
		res := classify(b, err)
		res.Duration = time.Since(start)

		if err != nil {
			log.Error("migration batch failed", zap.String("status", string(res.Status)), zap.Error(err))
		} else {
			log.Info("migration batch complete", zap.Duration("elapsed", res.Duration))
		}
		results = append(results, res)
	}
	return results
}

func classify(b model.MigrationBatch, err error) model.MigrationResult {
	res := model.MigrationResult{Batch: b, Status: model.MigrationSucceeded}
	if err == nil {
		return res
	}
	res.Error = err.Error()

	var procErr *ProcessError
	switch {
	case errors.Is(err, ErrMigrationTimeout):
		res.Status = model.MigrationTimedOut
	case errors.As(err, &procErr):
		res.Status = model.MigrationFailed
		res.ExitCode = procErr.ExitCode
		res.Stderr = procErr.Stderr
	default:
		res.Status = model.MigrationFailed
	}
	return res
}
