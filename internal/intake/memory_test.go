package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sale(product, warehouse int64, qty float64) domain.RawEvent {
	return domain.RawEvent{
		ProductID:   product,
		WarehouseID: warehouse,
		Quantity:    qty,
		EventDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RecordType:  domain.RecordSale,
	}
}

func TestMemoryQueue_FIFO(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(clock.Now)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, sale(1, 1, 1)))
	clock.Advance(time.Second)
	n, err := q.EnqueueBatch(ctx, []domain.RawEvent{sale(2, 1, 2), sale(3, 1, 3)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first, err := q.ConsumeBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.EqualValues(t, 1, first[0].ProductID)
	require.EqualValues(t, 2, first[1].ProductID)
	require.Less(t, first[0].ID, first[1].ID)

	rest, err := q.ConsumeBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.EqualValues(t, 3, rest[0].ProductID)

	empty, err := q.ConsumeBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryQueue_ConcurrentConsumersNeverDoubleDeliver(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(nil)
	ctx := context.Background()
	const total = 1000
	evs := make([]domain.RawEvent, total)
	for i := range evs {
		evs[i] = sale(int64(i+1), 1, 1)
	}
	_, err := q.EnqueueBatch(ctx, evs)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.ConsumeBatch(ctx, 7)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, ev := range batch {
					seen[ev.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, c := range seen {
		require.Equal(t, 1, c, "event %d delivered %d times", id, c)
	}
}

func TestMemoryQueue_RollbackRestoresConsumedEvents(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(nil)
	ctx := context.Background()
	_, err := q.EnqueueBatch(ctx, []domain.RawEvent{sale(1, 1, 1), sale(2, 1, 1), sale(3, 1, 1)})
	require.NoError(t, err)

	j := txlog.New()
	taken, err := q.ConsumeBatch(txlog.WithJournal(ctx, j), 2)
	require.NoError(t, err)
	require.Len(t, taken, 2)
	require.Equal(t, 1, q.Len())

	j.Rollback()
	require.Equal(t, 3, q.Len())

	again, err := q.ConsumeBatch(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, []int64{again[0].ProductID, again[1].ProductID, again[2].ProductID})
}

func TestMemoryQueue_Stats(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(clock.Now)
	ctx := context.Background()

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Count)

	require.NoError(t, q.Enqueue(ctx, sale(1, 7, 1)))
	clock.Advance(100 * time.Second)
	require.NoError(t, q.Enqueue(ctx, sale(1, 8, 1)))
	clock.Advance(100 * time.Second)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Count)
	require.InDelta(t, 200, stats.OldestAgeSeconds, 1e-9)
	require.InDelta(t, 150, stats.AvgAgeSeconds, 1e-9)
	require.Equal(t, map[int64]int64{7: 1, 8: 1}, stats.ByWarehouse)
}

func TestMemoryQueue_CancelledContext(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, q.Enqueue(ctx, sale(1, 1, 1)), context.Canceled)
	_, err := q.ConsumeBatch(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, q.Len())
}
