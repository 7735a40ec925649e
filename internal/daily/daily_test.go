package daily

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ev(product, warehouse int64, day time.Time, rt domain.RecordType, qty float64, at time.Time) domain.RawEvent {
	return domain.RawEvent{
		ProductID: product, WarehouseID: warehouse, Quantity: qty,
		EventDate: day, RecordType: rt, EnqueuedAt: at,
	}
}

func saleKey(product, warehouse int64, day time.Time) domain.DailyKey {
	return domain.DailyKey{ProductID: product, WarehouseID: warehouse, Date: day, RecordType: domain.RecordSale}
}

func TestGroupEvents(t *testing.T) {
	t.Parallel()

	t1 := jan1.Add(9 * time.Hour)
	t2 := jan1.Add(11 * time.Hour)
	groups := GroupEvents([]domain.RawEvent{
		ev(2, 1, jan1, domain.RecordSale, 1, t2),
		ev(1, 1, jan1, domain.RecordSale, 0.1, t2),
		ev(1, 1, jan1, domain.RecordSale, 0.2, t1),
		ev(1, 1, jan1, domain.RecordTransfer, -4, t1),
	})

	require.Len(t, groups, 3)
	require.Equal(t, saleKey(1, 1, jan1), groups[0].Key)
	require.Equal(t, "0.3", groups[0].Quantity.String())
	require.EqualValues(t, 2, groups[0].Count)
	require.Equal(t, t1, groups[0].First)
	require.Equal(t, t2, groups[0].Last)
	require.Equal(t, domain.RecordTransfer, groups[1].Key.RecordType)
	require.EqualValues(t, 2, groups[2].Key.ProductID)

	require.Empty(t, GroupEvents(nil))
}

func TestUpsertDaily_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	n, err := UpsertDaily(context.Background(), s, nil, jan1)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, s.Len())
}

func TestUpsertDaily_Commutative(t *testing.T) {
	t.Parallel()

	three := ev(1, 1, jan1, domain.RecordSale, 3, jan1.Add(time.Hour))
	five := ev(1, 1, jan1, domain.RecordSale, 5, jan1.Add(2*time.Hour))

	tests := []struct {
		name    string
		batches [][]domain.RawEvent
	}{
		{"one batch", [][]domain.RawEvent{{three, five}}},
		{"three then five", [][]domain.RawEvent{{three}, {five}}},
		{"five then three", [][]domain.RawEvent{{five}, {three}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			for _, batch := range tt.batches {
				n, err := UpsertDaily(context.Background(), s, batch, jan1)
				require.NoError(t, err)
				require.Equal(t, 1, n)
			}
			row, ok := s.Get(saleKey(1, 1, jan1))
			require.True(t, ok)
			require.Equal(t, 8.0, row.QuantityTotal)
			require.EqualValues(t, 2, row.EventCount)
			require.Equal(t, jan1.Add(time.Hour), row.FirstEventAt)
			require.Equal(t, jan1.Add(2*time.Hour), row.LastEventAt)
		})
	}
}

func TestMemoryStore_RollbackUndoesUpsert(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	_, err := UpsertDaily(ctx, s, []domain.RawEvent{ev(1, 1, jan1, domain.RecordSale, 3, jan1)}, jan1)
	require.NoError(t, err)

	j := txlog.New()
	tctx := txlog.WithJournal(ctx, j)
	_, err = UpsertDaily(tctx, s, []domain.RawEvent{
		ev(1, 1, jan1, domain.RecordSale, 5, jan1),
		ev(9, 9, jan1, domain.RecordSale, 1, jan1),
	}, jan1)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	j.Rollback()
	require.Equal(t, 1, s.Len())
	row, _ := s.Get(saleKey(1, 1, jan1))
	require.Equal(t, 3.0, row.QuantityTotal)
}

func TestMemoryStore_RangePurgePairs(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	jan10 := jan1.AddDate(0, 0, 9)
	_, err := UpsertDaily(ctx, s, []domain.RawEvent{
		ev(1, 1, jan1, domain.RecordSale, 1, jan1),
		ev(1, 1, jan10, domain.RecordSale, 2, jan10),
		ev(1, 2, jan10, domain.RecordTransfer, 3, jan10),
		ev(2, 1, jan10, domain.RecordSale, 4, jan10),
	}, jan10)
	require.NoError(t, err)

	rows, err := s.Range(ctx, []domain.Pair{{ProductID: 1, WarehouseID: 1}}, jan1.AddDate(0, 0, 1), jan10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2.0, rows[0].QuantityTotal)

	pairs, err := s.Pairs(ctx, domain.Pair{}, 2)
	require.NoError(t, err)
	require.Equal(t, []domain.Pair{{ProductID: 1, WarehouseID: 1}, {ProductID: 1, WarehouseID: 2}}, pairs)
	pairs, err = s.Pairs(ctx, pairs[1], 2)
	require.NoError(t, err)
	require.Equal(t, []domain.Pair{{ProductID: 2, WarehouseID: 1}}, pairs)

	n, err := s.Purge(ctx, jan10)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 3, s.Len())
}
