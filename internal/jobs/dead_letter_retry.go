package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"stockpulse.io/stockpulse/internal/service"
)

// DefaultRetryBatch caps the entries re-enqueued by one retry run.
const DefaultRetryBatch = 500

// DeadLetterRetryArgs re-enqueues auto-retryable dead letters.
type DeadLetterRetryArgs struct{}

// Kind returns the job kind identifier for dead letter retries.
func (DeadLetterRetryArgs) Kind() string { return "dead_letter_retry" }

// InsertOpts keeps one retry run per window.
func (DeadLetterRetryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 5 * time.Minute,
			ByQueue:  true,
		},
	}
}

// DeadLetterRetryWorker runs automatic retries.
type DeadLetterRetryWorker struct {
	river.WorkerDefaults[DeadLetterRetryArgs]
	deadLetters *service.DeadLetterService
	batch       int
}

// NewDeadLetterRetryWorker creates the worker. Non-positive batch uses
// DefaultRetryBatch.
func NewDeadLetterRetryWorker(s *service.DeadLetterService, batch int) *DeadLetterRetryWorker {
	if batch <= 0 {
		batch = DefaultRetryBatch
	}
	return &DeadLetterRetryWorker{deadLetters: s, batch: batch}
}

// Work re-enqueues one batch of retryable entries.
func (w *DeadLetterRetryWorker) Work(ctx context.Context, _ *river.Job[DeadLetterRetryArgs]) error {
	if w == nil || w.deadLetters == nil {
		return fmt.Errorf("dead letter retry worker is not initialized")
	}
	if _, err := w.deadLetters.AutoRetry(ctx, w.batch); err != nil {
		return fmt.Errorf("auto retry dead letters: %w", err)
	}
	return nil
}
