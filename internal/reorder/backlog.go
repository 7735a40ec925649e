package reorder

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// Backlog remembers pairs whose orderpoint refresh was skipped so the next
// run can retry them.
type Backlog interface {
	// Add records pairs; pairs already present keep their place.
	Add(ctx context.Context, pairs []domain.Pair, reason string, now time.Time) error
	// Take removes and returns up to limit pairs, oldest first.
	Take(ctx context.Context, limit int) ([]domain.Pair, error)
}

// MemoryBacklog is an in-process Backlog.
type MemoryBacklog struct {
	mu    sync.Mutex
	order []domain.Pair
	set   map[domain.Pair]struct{}
}

// NewMemoryBacklog creates an empty backlog.
func NewMemoryBacklog() *MemoryBacklog {
	return &MemoryBacklog{set: map[domain.Pair]struct{}{}}
}

// Add implements Backlog.
func (b *MemoryBacklog) Add(ctx context.Context, pairs []domain.Pair, _ string, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var added []domain.Pair
	for _, p := range pairs {
		if _, ok := b.set[p]; ok {
			continue
		}
		b.set[p] = struct{}{}
		b.order = append(b.order, p)
		added = append(added, p)
	}
	if len(added) > 0 {
		txlog.FromContext(ctx).Record(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, p := range added {
				delete(b.set, p)
			}
			b.order = slices.DeleteFunc(b.order, func(p domain.Pair) bool {
				return slices.Contains(added, p)
			})
		})
	}
	return nil
}

// Take implements Backlog.
func (b *MemoryBacklog) Take(ctx context.Context, limit int) ([]domain.Pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.order)
	if limit > 0 {
		n = min(n, limit)
	}
	taken := slices.Clone(b.order[:n])
	b.order = b.order[n:]
	for _, p := range taken {
		delete(b.set, p)
	}
	if len(taken) > 0 {
		txlog.FromContext(ctx).Record(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, p := range taken {
				b.set[p] = struct{}{}
			}
			b.order = append(slices.Clone(taken), b.order...)
		})
	}
	return taken, nil
}

// Len returns the number of pending pairs.
func (b *MemoryBacklog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// PostgresBacklog stores pending pairs in stock_orderpoint_backlog.
type PostgresBacklog struct {
	db dbtx.DBTX
}

// NewPostgresBacklog creates a backlog on db.
func NewPostgresBacklog(db dbtx.DBTX) *PostgresBacklog {
	return &PostgresBacklog{db: db}
}

// Add implements Backlog.
func (b *PostgresBacklog) Add(ctx context.Context, pairs []domain.Pair, reason string, now time.Time) error {
	if len(pairs) == 0 {
		return nil
	}
	products := make([]int64, len(pairs))
	warehouses := make([]int64, len(pairs))
	for i, p := range pairs {
		products[i], warehouses[i] = p.ProductID, p.WarehouseID
	}
	_, err := b.db.Exec(ctx, `
		INSERT INTO stock_orderpoint_backlog (product_id, warehouse_id, reason, queued_at)
		SELECT p, w, $3, $4 FROM unnest($1::bigint[], $2::bigint[]) AS u(p, w)
		ON CONFLICT (product_id, warehouse_id) DO NOTHING`,
		products, warehouses, reason, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("add orderpoint backlog: %w", err)
	}
	return nil
}

// Take implements Backlog.
func (b *PostgresBacklog) Take(ctx context.Context, limit int) ([]domain.Pair, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := b.db.Query(ctx, `
		DELETE FROM stock_orderpoint_backlog
		WHERE (product_id, warehouse_id) IN (
			SELECT product_id, warehouse_id FROM stock_orderpoint_backlog
			ORDER BY queued_at, product_id, warehouse_id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING product_id, warehouse_id`, limit)
	if err != nil {
		return nil, fmt.Errorf("take orderpoint backlog: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Pair, error) {
		var p domain.Pair
		err := row.Scan(&p.ProductID, &p.WarehouseID)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("take orderpoint backlog: %w", err)
	}
	return out, nil
}
