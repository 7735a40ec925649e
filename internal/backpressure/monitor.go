// Package backpressure flags when consumption is not keeping up with
// production. The flag is advisory: callers decide whether to slow producers,
// widen batches or alert.
package backpressure

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/pkg/metrics"
)

// StatsSource is the part of the intake queue the monitor reads.
type StatsSource interface {
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// Result is the outcome of one check.
type Result struct {
	HasBackpressure bool              `json:"has_backpressure"`
	Reason          string            `json:"reason,omitempty"`
	Stats           domain.QueueStats `json:"stats"`
}

// Monitor evaluates backpressure against queue stats. A positive cache TTL
// lets hot paths call Check before every enqueue while reading the queue at
// most once per TTL.
type Monitor struct {
	src StatsSource
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	cached   domain.QueueStats
	cachedAt time.Time
	flagged  bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithCacheTTL caches queue stats for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Monitor) { m.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor reading src.
func NewMonitor(src StatsSource, opts ...Option) *Monitor {
	m := &Monitor{src: src, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check reports backpressure when the oldest waiting event is older than
// maxAge or the queue holds more than maxSize events. A non-positive
// threshold disables that condition.
func (m *Monitor) Check(ctx context.Context, maxAge time.Duration, maxSize int64) (Result, error) {
	stats, err := m.stats(ctx)
	if err != nil {
		return Result{}, err
	}

	var reasons []string
	if maxAge > 0 && stats.Count > 0 && stats.OldestAgeSeconds > maxAge.Seconds() {
		reasons = append(reasons, fmt.Sprintf("oldest event age %.0fs exceeds %.0fs", stats.OldestAgeSeconds, maxAge.Seconds()))
	}
	if maxSize > 0 && stats.Count > maxSize {
		reasons = append(reasons, fmt.Sprintf("queue depth %d exceeds %d", stats.Count, maxSize))
	}
	res := Result{
		HasBackpressure: len(reasons) > 0,
		Reason:          strings.Join(reasons, "; "),
		Stats:           stats,
	}
	m.record(res)
	return res, nil
}

// Flagged returns the outcome of the most recent check.
func (m *Monitor) Flagged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flagged
}

func (m *Monitor) stats(ctx context.Context) (domain.QueueStats, error) {
	if m.ttl <= 0 {
		return m.src.Stats(ctx)
	}
	now := m.now()
	m.mu.Lock()
	if !m.cachedAt.IsZero() && now.Sub(m.cachedAt) < m.ttl {
		stats := m.cached
		elapsed := now.Sub(m.cachedAt).Seconds()
		m.mu.Unlock()
		// Waiting events keep aging while the snapshot is cached.
		if stats.Count > 0 {
			stats.OldestAgeSeconds += elapsed
			stats.AvgAgeSeconds += elapsed
		}
		return stats, nil
	}
	m.mu.Unlock()

	stats, err := m.src.Stats(ctx)
	if err != nil {
		return stats, err
	}
	m.mu.Lock()
	m.cached, m.cachedAt = stats, now
	m.mu.Unlock()
	return stats, nil
}

func (m *Monitor) record(res Result) {
	m.mu.Lock()
	changed := m.flagged != res.HasBackpressure
	m.flagged = res.HasBackpressure
	m.mu.Unlock()

	metrics.QueueDepth.Set(float64(res.Stats.Count))
	metrics.QueueOldestAge.Set(res.Stats.OldestAgeSeconds)
	if res.HasBackpressure {
		metrics.Backpressure.Set(1)
	} else {
		metrics.Backpressure.Set(0)
	}

	if !changed {
		return
	}
	if res.HasBackpressure {
		logger.Warn("Intake queue backpressure raised",
			zap.String("reason", res.Reason),
			zap.Int64("depth", res.Stats.Count),
			zap.Float64("oldest_age_seconds", res.Stats.OldestAgeSeconds),
		)
		return
	}
	logger.Info("Intake queue backpressure cleared", zap.Int64("depth", res.Stats.Count))
}
