package reorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// OrderpointStore persists engine output, one row per pair.
type OrderpointStore interface {
	Upsert(ctx context.Context, ops []domain.Orderpoint) error
	Get(ctx context.Context, p domain.Pair) (domain.Orderpoint, bool, error)
}

// MemoryOrderpoints is an in-process OrderpointStore.
type MemoryOrderpoints struct {
	mu  sync.RWMutex
	ops map[domain.Pair]domain.Orderpoint
}

// NewMemoryOrderpoints creates an empty store.
func NewMemoryOrderpoints() *MemoryOrderpoints {
	return &MemoryOrderpoints{ops: map[domain.Pair]domain.Orderpoint{}}
}

// Upsert implements OrderpointStore.
func (s *MemoryOrderpoints) Upsert(ctx context.Context, ops []domain.Orderpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := txlog.FromContext(ctx)
	for _, op := range ops {
		key := op.Pair()
		prev, existed := s.ops[key]
		s.ops[key] = op
		j.Record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existed {
				s.ops[key] = prev
			} else {
				delete(s.ops, key)
			}
		})
	}
	return nil
}

// Get implements OrderpointStore.
func (s *MemoryOrderpoints) Get(ctx context.Context, p domain.Pair) (domain.Orderpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Orderpoint{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[p]
	return op, ok, nil
}

// Len returns the number of orderpoints.
func (s *MemoryOrderpoints) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops)
}

// PostgresOrderpoints stores orderpoints in stock_orderpoint.
type PostgresOrderpoints struct {
	db dbtx.DBTX
}

// NewPostgresOrderpoints creates a store on db.
func NewPostgresOrderpoints(db dbtx.DBTX) *PostgresOrderpoints {
	return &PostgresOrderpoints{db: db}
}

// Upsert implements OrderpointStore with a single statement over unnested
// arrays.
func (s *PostgresOrderpoints) Upsert(ctx context.Context, ops []domain.Orderpoint) error {
	if len(ops) == 0 {
		return nil
	}
	n := len(ops)
	var (
		products   = make([]int64, n)
		warehouses = make([]int64, n)
		locations  = make([]int64, n)
		maxQty     = make([]float64, n)
		minQty     = make([]float64, n)
		reorder    = make([]float64, n)
		updated    = make([]time.Time, n)
	)
	for i, op := range ops {
		products[i], warehouses[i], locations[i] = op.ProductID, op.WarehouseID, op.LocationID
		maxQty[i], minQty[i], reorder[i] = op.ProductMaxQty, op.ProductMinQty, op.PointReorder
		updated[i] = op.UpdatedAt.UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO stock_orderpoint
			(product_id, warehouse_id, location_id, product_max_qty, product_min_qty, point_reorder, updated_at)
		SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::bigint[],
		                     $4::float8[], $5::float8[], $6::float8[], $7::timestamptz[])
		ON CONFLICT (product_id, warehouse_id) DO UPDATE SET
			location_id     = EXCLUDED.location_id,
			product_max_qty = EXCLUDED.product_max_qty,
			product_min_qty = EXCLUDED.product_min_qty,
			point_reorder   = EXCLUDED.point_reorder,
			updated_at      = EXCLUDED.updated_at`,
		products, warehouses, locations, maxQty, minQty, reorder, updated,
	)
	if err != nil {
		return fmt.Errorf("upsert orderpoints: %w", err)
	}
	return nil
}

// Get implements OrderpointStore.
func (s *PostgresOrderpoints) Get(ctx context.Context, p domain.Pair) (domain.Orderpoint, bool, error) {
	op := domain.Orderpoint{ProductID: p.ProductID, WarehouseID: p.WarehouseID}
	err := s.db.QueryRow(ctx, `
		SELECT location_id, product_max_qty, product_min_qty, point_reorder, updated_at
		FROM stock_orderpoint WHERE product_id = $1 AND warehouse_id = $2`,
		p.ProductID, p.WarehouseID,
	).Scan(&op.LocationID, &op.ProductMaxQty, &op.ProductMinQty, &op.PointReorder, &op.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Orderpoint{}, false, nil
	}
	if err != nil {
		return domain.Orderpoint{}, false, fmt.Errorf("get orderpoint %s: %w", p, err)
	}
	return op, true, nil
}
