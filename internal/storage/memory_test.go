package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/eventlog"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func sale(product int64) domain.RawEvent {
	return domain.RawEvent{
		ProductID: product, WarehouseID: 1, Quantity: 1,
		EventDate: domain.Day(now), RecordType: domain.RecordSale,
	}
}

func TestMemory_DoCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	m := NewMemory(clock)
	ctx := context.Background()
	require.NoError(t, m.Queue.Enqueue(ctx, sale(1)))

	err := m.Do(ctx, func(ctx context.Context, tx Tx) error {
		evs, err := tx.Stores().Queue.ConsumeBatch(ctx, 10)
		require.Len(t, evs, 1)
		return err
	})
	require.NoError(t, err)
	require.Zero(t, m.Queue.Len())
}

func TestMemory_DoRollsBackOnError(t *testing.T) {
	t.Parallel()

	m := NewMemory(clock)
	ctx := context.Background()
	require.NoError(t, m.Queue.Enqueue(ctx, sale(1)))

	boom := errors.New("boom")
	err := m.Do(ctx, func(ctx context.Context, tx Tx) error {
		s := tx.Stores()
		evs, err := s.Queue.ConsumeBatch(ctx, 10)
		require.NoError(t, err)
		_, err = s.EventLog.LogEvents(ctx, evs, batch())
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, m.Queue.Len())
	require.Empty(t, m.EventLog.Records(domain.Day(now)))
}

func TestMemory_SavepointUndoesOnlyInnerWrites(t *testing.T) {
	t.Parallel()

	m := NewMemory(clock)
	ctx := context.Background()
	_, err := m.Queue.EnqueueBatch(ctx, []domain.RawEvent{sale(1), sale(2)})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Do(ctx, func(ctx context.Context, tx Tx) error {
		s := tx.Stores()
		evs, err := s.Queue.ConsumeBatch(ctx, 10)
		require.NoError(t, err)
		spErr := tx.Savepoint(ctx, func(ctx context.Context) error {
			if _, err := s.EventLog.LogEvents(ctx, evs, batch()); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, spErr, boom)
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, m.Queue.Len())
	require.Empty(t, m.EventLog.Records(domain.Day(now)))
}

func TestMemory_DoRollsBackOnPanic(t *testing.T) {
	t.Parallel()

	m := NewMemory(clock)
	ctx := context.Background()
	require.NoError(t, m.Queue.Enqueue(ctx, sale(1)))

	require.Panics(t, func() {
		_ = m.Do(ctx, func(ctx context.Context, tx Tx) error {
			_, _ = tx.Stores().Queue.ConsumeBatch(ctx, 10)
			panic("boom")
		})
	})
	require.Equal(t, 1, m.Queue.Len())
}

func TestMemory_Driver(t *testing.T) {
	t.Parallel()

	m := NewMemory(nil)
	require.Equal(t, DriverMemory, m.Driver())
	require.NoError(t, m.Ping(context.Background()))
}

func batch() eventlog.Batch {
	return eventlog.Batch{ID: "b-1", ProcessedAt: now}
}
