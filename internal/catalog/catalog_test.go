package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/testutil"
)

func TestSnapshot_Check(t *testing.T) {
	t.Parallel()

	c := NewMemoryCatalog().AddProducts(1, 2).AddWarehouse(10, 100)
	evs := []domain.RawEvent{
		{ProductID: 1, WarehouseID: 10},
		{ProductID: 3, WarehouseID: 10},
		{ProductID: 2, WarehouseID: 11},
		{ProductID: 1, WarehouseID: 10},
	}
	products, warehouses := References(evs)
	require.Equal(t, []int64{1, 2, 3}, products)
	require.Equal(t, []int64{10, 11}, warehouses)

	snap, err := LookupEvents(context.Background(), c, evs)
	require.NoError(t, err)

	require.NoError(t, snap.Check(evs[0]))

	err = snap.Check(evs[1])
	require.Error(t, err)
	require.Equal(t, apperrors.KindReferential, apperrors.KindOf(err))
	require.Contains(t, err.Error(), "product 3")

	err = snap.Check(evs[2])
	require.Contains(t, err.Error(), "warehouse 11")

	loc, ok := snap.Location(10)
	require.True(t, ok)
	require.EqualValues(t, 100, loc)
}

func TestNewPostgresCatalog_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	tables := DefaultTables()
	tables.ProductTable = "product; drop table x"
	_, err := NewPostgresCatalog(nil, tables)
	require.Error(t, err)

	tables = DefaultTables()
	tables.ProductActiveCol = ""
	c, err := NewPostgresCatalog(nil, tables)
	require.NoError(t, err)
	require.NotContains(t, c.productSQL, "active")
}

func TestPostgresCatalog_Lookup(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "catalog")
	ctx := context.Background()
	_, err := pool.Exec(ctx, `
		INSERT INTO product_product (id, active) VALUES (1, true), (2, false);
		INSERT INTO stock_warehouse (id, lot_stock_id) VALUES (10, 100);`)
	require.NoError(t, err)

	c, err := NewPostgresCatalog(pool, DefaultTables())
	require.NoError(t, err)
	snap, err := c.Lookup(ctx, []int64{1, 2, 3}, []int64{10, 11})
	require.NoError(t, err)
	require.Equal(t, map[int64]struct{}{1: {}}, snap.Products)
	require.Equal(t, map[int64]int64{10: 100}, snap.Warehouses)
}
