// Package service holds the operator and producer use cases of the
// pipeline. Handlers, CLI commands and periodic jobs share them.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"stockpulse.io/stockpulse/internal/backpressure"
	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/intake"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/metrics"
)

// EventService accepts producer events and reports on the intake queue.
type EventService struct {
	queue    intake.Queue
	monitor  *backpressure.Monitor
	throttle *backpressure.Throttle
}

// NewEventService creates an EventService. throttle may be nil.
func NewEventService(queue intake.Queue, monitor *backpressure.Monitor, throttle *backpressure.Throttle) *EventService {
	return &EventService{queue: queue, monitor: monitor, throttle: throttle}
}

// Enqueue validates and stores events in order. Either every event is
// accepted or none is.
func (s *EventService) Enqueue(ctx context.Context, evs []domain.RawEvent) (int, error) {
	if len(evs) == 0 {
		return 0, nil
	}
	for i, ev := range evs {
		if err := domain.ValidateEvent(ev); err != nil {
			return 0, apperrors.Wrap(err, apperrors.CodeInvalidEvent, err.Error(), http.StatusBadRequest).
				WithParams(map[string]interface{}{"index": i})
		}
	}
	if s.throttle != nil {
		if err := s.throttle.Wait(ctx, len(evs)); err != nil {
			return 0, fmt.Errorf("wait for intake capacity: %w", err)
		}
	}
	n, err := s.queue.EnqueueBatch(ctx, evs)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeEnqueueFailed, "failed to enqueue events", http.StatusServiceUnavailable)
	}
	metrics.EventsEnqueued.Add(float64(n))
	return n, nil
}

// QueueStats returns a fresh snapshot of the intake queue.
func (s *EventService) QueueStats(ctx context.Context) (domain.QueueStats, error) {
	st, err := s.queue.Stats(ctx)
	if err != nil {
		return domain.QueueStats{}, apperrors.Wrap(err, apperrors.CodeQueueStatsFail, "failed to read queue stats", http.StatusServiceUnavailable)
	}
	return st, nil
}

// Backpressure evaluates the monitor against the given limits.
func (s *EventService) Backpressure(ctx context.Context, maxAge time.Duration, maxSize int64) (backpressure.Result, error) {
	res, err := s.monitor.Check(ctx, maxAge, maxSize)
	if err != nil {
		return backpressure.Result{}, apperrors.Wrap(err, apperrors.CodeQueueStatsFail, "failed to evaluate backpressure", http.StatusServiceUnavailable)
	}
	return res, nil
}
