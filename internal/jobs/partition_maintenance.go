package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"stockpulse.io/stockpulse/internal/service"
)

// PartitionMaintenanceArgs pre-creates upcoming event log partitions.
type PartitionMaintenanceArgs struct{}

// Kind returns the job kind identifier for partition maintenance.
func (PartitionMaintenanceArgs) Kind() string { return "partition_maintenance" }

// InsertOpts ensures at most one run per day.
func (PartitionMaintenanceArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// PartitionMaintenanceWorker ensures the partitions exist.
type PartitionMaintenanceWorker struct {
	river.WorkerDefaults[PartitionMaintenanceArgs]
	maintenance *service.MaintenanceService
}

// NewPartitionMaintenanceWorker creates the worker.
func NewPartitionMaintenanceWorker(m *service.MaintenanceService) *PartitionMaintenanceWorker {
	return &PartitionMaintenanceWorker{maintenance: m}
}

// Work ensures partitions for today and the configured days ahead.
func (w *PartitionMaintenanceWorker) Work(ctx context.Context, _ *river.Job[PartitionMaintenanceArgs]) error {
	if w == nil || w.maintenance == nil {
		return fmt.Errorf("partition maintenance worker is not initialized")
	}
	if _, err := w.maintenance.PrecreatePartitions(ctx); err != nil {
		return fmt.Errorf("precreate partitions: %w", err)
	}
	return nil
}
