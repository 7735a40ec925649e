package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

var today = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func eventOn(day time.Time) domain.RawEvent {
	return domain.RawEvent{ID: 1, ProductID: 1, WarehouseID: 1, Quantity: 1, EventDate: day, RecordType: domain.RecordSale}
}

func TestPartitionName(t *testing.T) {
	t.Parallel()

	name := PartitionName(time.Date(2024, 2, 9, 23, 0, 0, 0, time.UTC))
	require.Equal(t, "stock_event_log_p20240209", name)

	d, ok := ParsePartitionName(name)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC), d)

	for _, bad := range []string{"stock_event_log", "stock_event_log_p2024020", "other_p20240209", "stock_event_log_p2024x209"} {
		_, ok := ParsePartitionName(bad)
		require.False(t, ok, bad)
	}
}

func TestMemoryLog_LogEventsRoutesByDay(t *testing.T) {
	t.Parallel()

	l := NewMemoryLog(func() time.Time { return today })
	ctx := context.Background()
	d1, d2 := domain.Day(today), domain.Day(today).AddDate(0, 0, -1)
	batch := Batch{ID: "b-1", ProcessedAt: today, ProcessingTimeMS: 12}

	n, err := l.LogEvents(ctx, []domain.RawEvent{eventOn(d1), eventOn(d2), eventOn(d1)}, batch)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	recs := l.Records(d1)
	require.Len(t, recs, 2)
	require.Equal(t, "b-1", recs[0].BatchID)
	require.EqualValues(t, 12, recs[0].ProcessingTimeMS)

	parts, err := l.ListPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, d2, parts[0].Date)
	require.EqualValues(t, 2, parts[1].Rows)
}

func TestMemoryLog_DropPartitionsOlderThan(t *testing.T) {
	t.Parallel()

	l := NewMemoryLog(func() time.Time { return today })
	ctx := context.Background()
	day := domain.Day(today)

	dropped, err := l.DropPartitionsOlderThan(ctx, 90)
	require.NoError(t, err)
	require.Empty(t, dropped)

	old := day.AddDate(0, 0, -91)
	edge := day.AddDate(0, 0, -90)
	_, err = l.LogEvents(ctx, []domain.RawEvent{eventOn(old), eventOn(edge), eventOn(day)}, Batch{ID: "b"})
	require.NoError(t, err)
	require.NoError(t, l.EnsurePartitionExists(ctx, day.AddDate(0, 0, 3)))

	dropped, err = l.DropPartitionsOlderThan(ctx, 90)
	require.NoError(t, err)
	require.Equal(t, []string{PartitionName(old)}, dropped)

	n, err := l.Count(ctx, time.Time{}, day.AddDate(0, 0, -91))
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = l.Count(ctx, edge, day)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	parts, err := l.ListPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 3)
}

func TestMemoryLog_RollbackRemovesAppends(t *testing.T) {
	t.Parallel()

	l := NewMemoryLog(nil)
	ctx := context.Background()
	day := domain.Day(today)
	_, err := l.LogEvents(ctx, []domain.RawEvent{eventOn(day)}, Batch{ID: "kept"})
	require.NoError(t, err)

	j := txlog.New()
	_, err = l.LogEvents(txlog.WithJournal(ctx, j), []domain.RawEvent{eventOn(day), eventOn(day.AddDate(0, 0, 1))}, Batch{ID: "undone"})
	require.NoError(t, err)
	j.Rollback()

	require.Len(t, l.Records(day), 1)
	require.Equal(t, "kept", l.Records(day)[0].BatchID)
	parts, err := l.ListPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 1)
}
