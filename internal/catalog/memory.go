package catalog

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-process Catalog.
type MemoryCatalog struct {
	mu         sync.RWMutex
	products   map[int64]struct{}
	warehouses map[int64]int64
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: map[int64]struct{}{}, warehouses: map[int64]int64{}}
}

// AddProducts registers products.
func (c *MemoryCatalog) AddProducts(ids ...int64) *MemoryCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.products[id] = struct{}{}
	}
	return c
}

// AddWarehouse registers a warehouse and its stock location.
func (c *MemoryCatalog) AddWarehouse(id, locationID int64) *MemoryCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warehouses[id] = locationID
	return c
}

// RemoveProduct deletes a product.
func (c *MemoryCatalog) RemoveProduct(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

// Lookup implements Catalog.
func (c *MemoryCatalog) Lookup(ctx context.Context, productIDs, warehouseIDs []int64) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Products: map[int64]struct{}{}, Warehouses: map[int64]int64{}}
	for _, id := range productIDs {
		if _, ok := c.products[id]; ok {
			snap.Products[id] = struct{}{}
		}
	}
	for _, id := range warehouseIDs {
		if loc, ok := c.warehouses[id]; ok {
			snap.Warehouses[id] = loc
		}
	}
	return snap, nil
}
