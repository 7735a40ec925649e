// Package catalog answers whether the products and warehouses referenced by
// events exist. Master data is owned elsewhere; the pipeline only reads it.
package catalog

import (
	"context"
	"fmt"
	"slices"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
)

// Catalog resolves references in bulk.
type Catalog interface {
	// Lookup returns which of the given products and warehouses exist.
	Lookup(ctx context.Context, productIDs, warehouseIDs []int64) (Snapshot, error)
}

// Snapshot is the result of one Lookup.
type Snapshot struct {
	Products map[int64]struct{}
	// Warehouses maps each existing warehouse to its stock location.
	Warehouses map[int64]int64
}

// Check returns a referential error when ev points at a missing entity.
func (s Snapshot) Check(ev domain.RawEvent) error {
	if _, ok := s.Products[ev.ProductID]; !ok {
		return apperrors.Referential("check event", fmt.Errorf("product %d does not exist", ev.ProductID))
	}
	if _, ok := s.Warehouses[ev.WarehouseID]; !ok {
		return apperrors.Referential("check event", fmt.Errorf("warehouse %d does not exist", ev.WarehouseID))
	}
	return nil
}

// Location returns the stock location of a warehouse.
func (s Snapshot) Location(warehouseID int64) (int64, bool) {
	loc, ok := s.Warehouses[warehouseID]
	return loc, ok
}

// References collects the distinct product and warehouse ids of evs.
func References(evs []domain.RawEvent) (products, warehouses []int64) {
	for _, ev := range evs {
		products = append(products, ev.ProductID)
		warehouses = append(warehouses, ev.WarehouseID)
	}
	slices.Sort(products)
	slices.Sort(warehouses)
	return slices.Compact(products), slices.Compact(warehouses)
}

// LookupEvents looks up every reference of evs.
func LookupEvents(ctx context.Context, c Catalog, evs []domain.RawEvent) (Snapshot, error) {
	products, warehouses := References(evs)
	return c.Lookup(ctx, products, warehouses)
}
