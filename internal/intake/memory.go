package intake

import (
	"context"
	"sync"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// MemoryQueue is an in-process Queue. Consumed events are restored at the
// head of the queue when the unit of work in ctx rolls back.
type MemoryQueue struct {
	mu    sync.Mutex
	items []domain.RawEvent
	seq   int64
	now   func() time.Time
}

// NewMemoryQueue creates an empty queue. A nil clock uses time.Now.
func NewMemoryQueue(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{now: now}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, ev domain.RawEvent) error {
	_, err := q.EnqueueBatch(ctx, []domain.RawEvent{ev})
	return err
}

// EnqueueBatch implements Queue.
func (q *MemoryQueue) EnqueueBatch(ctx context.Context, evs []domain.RawEvent) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(evs) == 0 {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	ids := make(map[int64]struct{}, len(evs))
	for _, ev := range evs {
		q.seq++
		ev.ID = q.seq
		ev.EnqueuedAt = now
		q.items = append(q.items, ev)
		ids[ev.ID] = struct{}{}
	}
	txlog.FromContext(ctx).Record(func() { q.remove(ids) })
	return len(evs), nil
}

// ConsumeBatch implements Queue.
func (q *MemoryQueue) ConsumeBatch(ctx context.Context, maxSize int) ([]domain.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(maxSize, len(q.items))
	if n == 0 {
		return nil, nil
	}
	taken := make([]domain.RawEvent, n)
	copy(taken, q.items[:n])
	q.items = q.items[n:]

	txlog.FromContext(ctx).Record(func() { q.restore(taken) })
	return taken, nil
}

// Stats implements Queue.
func (q *MemoryQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.QueueStats{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := domain.QueueStats{
		Count:       int64(len(q.items)),
		ByWarehouse: map[int64]int64{},
	}
	if len(q.items) == 0 {
		return stats, nil
	}
	now := q.now()
	var total float64
	for _, ev := range q.items {
		age := ageSeconds(now, ev.EnqueuedAt)
		total += age
		stats.ByWarehouse[ev.WarehouseID]++
	}
	stats.OldestAgeSeconds = ageSeconds(now, q.items[0].EnqueuedAt)
	stats.AvgAgeSeconds = total / float64(len(q.items))
	return stats, nil
}

// Len returns the current depth.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// restore puts taken events back in front, keeping FIFO order.
func (q *MemoryQueue) restore(taken []domain.RawEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]domain.RawEvent, 0, len(taken)+len(q.items))
	items = append(items, taken...)
	items = append(items, q.items...)
	q.items = items
}

func (q *MemoryQueue) remove(ids map[int64]struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0:0]
	for _, ev := range q.items {
		if _, drop := ids[ev.ID]; !drop {
			kept = append(kept, ev)
		}
	}
	q.items = kept
}
