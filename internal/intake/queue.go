// Package intake implements the intake queue: a durable FIFO buffer of raw
// events between the producing write path and the queue processor.
//
// Consumption is a single take-and-remove operation. Two consumers never see
// the same event and never wait on each other.
package intake

import (
	"context"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
)

// Queue is the intake queue contract.
type Queue interface {
	// Enqueue appends one event. A storage error means the event was not
	// stored; retrying is the caller's responsibility.
	Enqueue(ctx context.Context, ev domain.RawEvent) error

	// EnqueueBatch appends events in order and returns how many were stored.
	EnqueueBatch(ctx context.Context, evs []domain.RawEvent) (int, error)

	// ConsumeBatch removes and returns up to maxSize of the oldest events,
	// ordered by enqueue time then insertion sequence. On error nothing is
	// removed.
	ConsumeBatch(ctx context.Context, maxSize int) ([]domain.RawEvent, error)

	// Stats returns depth and age figures computed from current state.
	Stats(ctx context.Context) (domain.QueueStats, error)
}

func ageSeconds(now, t time.Time) float64 {
	age := now.Sub(t).Seconds()
	if age < 0 {
		return 0
	}
	return age
}
