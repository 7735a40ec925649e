// Package jobs defines the River jobs that drive the pipeline: periodic
// queue processing, retention, partition upkeep and dead letter retries.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/processor"
)

// QueueProcessArgs runs one time-boxed processor pass.
type QueueProcessArgs struct{}

// Kind returns the job kind identifier for queue processing.
func (QueueProcessArgs) Kind() string { return "queue_process" }

// InsertOpts keeps at most one pass queued per interval; a failed pass is not
// retried by River because the next period picks the events up.
func (QueueProcessArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 30 * time.Second,
			ByQueue:  true,
		},
	}
}

// QueueProcessWorker runs the processor.
type QueueProcessWorker struct {
	river.WorkerDefaults[QueueProcessArgs]
	processor *processor.Processor
	timeout   time.Duration
}

// NewQueueProcessWorker creates the worker. timeout bounds the whole job and
// should exceed the processor time budget.
func NewQueueProcessWorker(p *processor.Processor, timeout time.Duration) *QueueProcessWorker {
	return &QueueProcessWorker{processor: p, timeout: timeout}
}

// Timeout implements river.Worker.
func (w *QueueProcessWorker) Timeout(*river.Job[QueueProcessArgs]) time.Duration {
	if w == nil || w.timeout <= 0 {
		return 0
	}
	return w.timeout
}

// Work drains the intake queue until it is empty or the budget is spent.
func (w *QueueProcessWorker) Work(ctx context.Context, _ *river.Job[QueueProcessArgs]) error {
	if w == nil || w.processor == nil {
		return fmt.Errorf("queue process worker is not initialized")
	}
	res, err := w.processor.Run(ctx)
	if err != nil {
		logger.Warn("queue process stopped early",
			zap.String("stop_reason", res.StopReason),
			zap.Int("batches", res.Batches),
			zap.Error(err),
		)
		return fmt.Errorf("process queue: %w", err)
	}
	return nil
}
