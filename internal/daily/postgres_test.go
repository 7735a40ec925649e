package daily

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/testutil"
)

func TestPostgresStore_AdditiveUpsert(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "daily-stat")
	ctx := context.Background()
	s := NewPostgresStore(pool)

	for _, qty := range []float64{5, 3} {
		n, err := UpsertDaily(ctx, s, []domain.RawEvent{ev(1, 1, jan1, domain.RecordSale, qty, jan1.Add(time.Hour))}, jan1)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	rows, err := s.Range(ctx, []domain.Pair{{ProductID: 1, WarehouseID: 1}}, jan1, jan1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 8.0, rows[0].QuantityTotal)
	require.EqualValues(t, 2, rows[0].EventCount)

	pairs, err := s.Pairs(ctx, domain.Pair{}, 10)
	require.NoError(t, err)
	require.Equal(t, []domain.Pair{{ProductID: 1, WarehouseID: 1}}, pairs)

	n, err := s.Purge(ctx, jan1.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
