package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/testutil"
)

func TestPostgresQueue_ConsumeIsAtomicTake(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "intake-queue")
	ctx := context.Background()

	q := NewPostgresQueue(pool)

	require.NoError(t, q.Enqueue(ctx, sale(1, 1, 1)))
	n, err := q.EnqueueBatch(ctx, []domain.RawEvent{sale(2, 1, 2), sale(3, 2, 3)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Count)
	require.Equal(t, map[int64]int64{1: 2, 2: 1}, stats.ByWarehouse)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	taken, err := q.WithTx(tx).ConsumeBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, taken, 2)
	require.EqualValues(t, 1, taken[0].ProductID)

	// A second consumer skips the locked rows.
	other, err := q.ConsumeBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, other, 1)
	require.EqualValues(t, 3, other[0].ProductID)

	require.NoError(t, tx.Rollback(ctx))

	again, err := q.ConsumeBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 2)
	require.EqualValues(t, 1, again[0].ProductID)
	require.EqualValues(t, 2, again[1].ProductID)
}

func TestPostgresQueue_EnqueuedAtUsesDatabaseClock(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "intake-queue-clock")
	ctx := context.Background()
	q := NewPostgresQueue(pool)

	_, err := q.EnqueueBatch(ctx, []domain.RawEvent{sale(1, 1, 1)})
	require.NoError(t, err)

	var dbNow time.Time
	require.NoError(t, pool.QueryRow(ctx, "SELECT clock_timestamp()").Scan(&dbNow))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.OldestAgeSeconds, 0.0)
	require.Less(t, stats.OldestAgeSeconds, 60.0)

	evs, err := q.ConsumeBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.WithinDuration(t, dbNow, evs[0].EnqueuedAt, time.Minute)
}
