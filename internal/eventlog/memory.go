package eventlog

import (
	"context"
	"slices"
	"sync"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// MemoryLog keeps one slice of records per day.
type MemoryLog struct {
	mu       sync.RWMutex
	segments map[time.Time][]domain.EventLogRecord
	now      func() time.Time
}

// NewMemoryLog creates an empty log. A nil clock uses time.Now.
func NewMemoryLog(now func() time.Time) *MemoryLog {
	if now == nil {
		now = time.Now
	}
	return &MemoryLog{segments: map[time.Time][]domain.EventLogRecord{}, now: now}
}

// LogEvents implements Log.
func (l *MemoryLog) LogEvents(ctx context.Context, events []domain.RawEvent, batch Batch) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	j := txlog.FromContext(ctx)
	for _, rec := range Records(events, batch) {
		day := rec.EventDate
		seg, existed := l.segments[day]
		prevLen := len(seg)
		l.segments[day] = append(seg, rec)
		j.Record(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if !existed {
				delete(l.segments, day)
				return
			}
			if cur, ok := l.segments[day]; ok && len(cur) > prevLen {
				l.segments[day] = cur[:prevLen]
			}
		})
	}
	return len(events), nil
}

// EnsurePartitionExists implements Log.
func (l *MemoryLog) EnsurePartitionExists(ctx context.Context, date time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	day := domain.Day(date)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.segments[day]; !ok {
		l.segments[day] = nil
	}
	return nil
}

// DropPartitionsOlderThan implements Log.
func (l *MemoryLog) DropPartitionsOlderThan(ctx context.Context, days int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := cutoff(l.now(), days)
	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped []string
	for day := range l.segments {
		if day.Before(limit) {
			delete(l.segments, day)
			dropped = append(dropped, PartitionName(day))
		}
	}
	slices.Sort(dropped)
	return dropped, nil
}

// ListPartitions implements Log.
func (l *MemoryLog) ListPartitions(ctx context.Context) ([]Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Partition, 0, len(l.segments))
	for day, seg := range l.segments {
		out = append(out, Partition{Name: PartitionName(day), Date: day, Rows: int64(len(seg))})
	}
	slices.SortFunc(out, func(a, b Partition) int { return a.Date.Compare(b.Date) })
	return out, nil
}

// Count implements Log.
func (l *MemoryLog) Count(ctx context.Context, from, to time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	from, to = domain.Day(from), domain.Day(to)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var n int64
	for day, seg := range l.segments {
		if !day.Before(from) && !day.After(to) {
			n += int64(len(seg))
		}
	}
	return n, nil
}

// Records returns a copy of the records of one day.
func (l *MemoryLog) Records(date time.Time) []domain.EventLogRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.segments[domain.Day(date)])
}
