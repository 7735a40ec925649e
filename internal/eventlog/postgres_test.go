package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/testutil"
)

func TestPostgresLog_PartitionLifecycle(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "event-log")
	ctx := context.Background()
	now := time.Now().UTC()
	l := NewPostgresLog(pool, nil, nil, func() time.Time { return now })
	day := domain.Day(now)
	old := day.AddDate(0, 0, -120)

	dropped, err := l.DropPartitionsOlderThan(ctx, 90)
	require.NoError(t, err)
	require.Empty(t, dropped)

	n, err := l.LogEvents(ctx, []domain.RawEvent{eventOn(day), eventOn(old)}, Batch{ID: "b-1", ProcessedAt: now})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Idempotent, including from a fresh cache.
	require.NoError(t, NewPostgresLog(pool, nil, nil, nil).EnsurePartitionExists(ctx, day))

	parts, err := l.ListPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, PartitionName(old), parts[0].Name)

	dropped, err = l.DropPartitionsOlderThan(ctx, 90)
	require.NoError(t, err)
	require.Equal(t, []string{PartitionName(old)}, dropped)

	count, err := l.Count(ctx, old.AddDate(0, 0, -1), day.AddDate(0, 0, -91))
	require.NoError(t, err)
	require.Zero(t, count)
	count, err = l.Count(ctx, day, day)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
