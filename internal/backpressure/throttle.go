package backpressure

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle slows producers with a token bucket while the monitor is flagged.
// Without backpressure Wait returns immediately.
type Throttle struct {
	monitor *Monitor
	limiter *rate.Limiter
	maxAge  time.Duration
	maxSize int64
}

// NewThrottle creates a throttle allowing perSecond events with the given
// burst while backpressure holds.
func NewThrottle(m *Monitor, maxAge time.Duration, maxSize int64, perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		monitor: m,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		maxAge:  maxAge,
		maxSize: maxSize,
	}
}

// Wait blocks until n events may be enqueued. A failing stats read does not
// block producers.
func (t *Throttle) Wait(ctx context.Context, n int) error {
	res, err := t.monitor.Check(ctx, t.maxAge, t.maxSize)
	if err != nil || !res.HasBackpressure {
		return nil
	}
	for n > 0 {
		chunk := min(n, t.limiter.Burst())
		if err := t.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
