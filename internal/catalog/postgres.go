package catalog

import (
	"context"
	"fmt"

	"stockpulse.io/stockpulse/internal/pkg/dbtx"
)

// Tables names the master-data tables and columns. Defaults match an Odoo
// style schema.
type Tables struct {
	ProductTable      string
	ProductIDColumn   string
	ProductActiveCol  string
	WarehouseTable    string
	WarehouseIDColumn string
	LocationColumn    string
}

// DefaultTables returns the default table mapping.
func DefaultTables() Tables {
	return Tables{
		ProductTable:      "product_product",
		ProductIDColumn:   "id",
		ProductActiveCol:  "active",
		WarehouseTable:    "stock_warehouse",
		WarehouseIDColumn: "id",
		LocationColumn:    "lot_stock_id",
	}
}

// PostgresCatalog reads master data from configurable tables.
type PostgresCatalog struct {
	db           dbtx.DBTX
	productSQL   string
	warehouseSQL string
}

// NewPostgresCatalog validates the mapping and prepares the lookups. An
// empty ProductActiveCol disables the active filter.
func NewPostgresCatalog(db dbtx.DBTX, t Tables) (*PostgresCatalog, error) {
	q := func(name string) (string, error) { return dbtx.QuoteIdent(name) }

	pt, err := q(t.ProductTable)
	if err != nil {
		return nil, fmt.Errorf("catalog product table: %w", err)
	}
	pid, err := q(t.ProductIDColumn)
	if err != nil {
		return nil, fmt.Errorf("catalog product id column: %w", err)
	}
	wt, err := q(t.WarehouseTable)
	if err != nil {
		return nil, fmt.Errorf("catalog warehouse table: %w", err)
	}
	wid, err := q(t.WarehouseIDColumn)
	if err != nil {
		return nil, fmt.Errorf("catalog warehouse id column: %w", err)
	}
	loc, err := q(t.LocationColumn)
	if err != nil {
		return nil, fmt.Errorf("catalog location column: %w", err)
	}

	productSQL := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ANY($1)`, pid, pt, pid)
	if t.ProductActiveCol != "" {
		active, err := q(t.ProductActiveCol)
		if err != nil {
			return nil, fmt.Errorf("catalog product active column: %w", err)
		}
		productSQL += fmt.Sprintf(` AND %s`, active)
	}
	return &PostgresCatalog{
		db:           db,
		productSQL:   productSQL,
		warehouseSQL: fmt.Sprintf(`SELECT %s, COALESCE(%s, 0) FROM %s WHERE %s = ANY($1)`, wid, loc, wt, wid),
	}, nil
}

// WithDB returns a catalog reading through db.
func (c *PostgresCatalog) WithDB(db dbtx.DBTX) *PostgresCatalog {
	cp := *c
	cp.db = db
	return &cp
}

// Lookup implements Catalog.
func (c *PostgresCatalog) Lookup(ctx context.Context, productIDs, warehouseIDs []int64) (Snapshot, error) {
	snap := Snapshot{Products: map[int64]struct{}{}, Warehouses: map[int64]int64{}}
	if len(productIDs) > 0 {
		rows, err := c.db.Query(ctx, c.productSQL, productIDs)
		if err != nil {
			return snap, fmt.Errorf("lookup products: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return snap, fmt.Errorf("scan product: %w", err)
			}
			snap.Products[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return snap, fmt.Errorf("lookup products: %w", err)
		}
	}
	if len(warehouseIDs) > 0 {
		rows, err := c.db.Query(ctx, c.warehouseSQL, warehouseIDs)
		if err != nil {
			return snap, fmt.Errorf("lookup warehouses: %w", err)
		}
		for rows.Next() {
			var id, loc int64
			if err := rows.Scan(&id, &loc); err != nil {
				rows.Close()
				return snap, fmt.Errorf("scan warehouse: %w", err)
			}
			snap.Warehouses[id] = loc
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return snap, fmt.Errorf("lookup warehouses: %w", err)
		}
	}
	return snap, nil
}
