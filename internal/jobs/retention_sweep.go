package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"stockpulse.io/stockpulse/internal/service"
)

// RetentionSweepArgs purges expired daily statistics, terminal dead letters
// and event log partitions.
type RetentionSweepArgs struct{}

// Kind returns the job kind identifier for the retention sweep.
func (RetentionSweepArgs) Kind() string { return "retention_sweep" }

// InsertOpts ensures at most one sweep is enqueued within the same day.
func (RetentionSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// RetentionSweepWorker runs the sweep.
type RetentionSweepWorker struct {
	river.WorkerDefaults[RetentionSweepArgs]
	maintenance *service.MaintenanceService
}

// NewRetentionSweepWorker creates the worker.
func NewRetentionSweepWorker(m *service.MaintenanceService) *RetentionSweepWorker {
	return &RetentionSweepWorker{maintenance: m}
}

// Work runs one sweep.
func (w *RetentionSweepWorker) Work(ctx context.Context, _ *river.Job[RetentionSweepArgs]) error {
	if w == nil || w.maintenance == nil {
		return fmt.Errorf("retention sweep worker is not initialized")
	}
	if _, err := w.maintenance.RetentionSweep(ctx); err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	return nil
}
