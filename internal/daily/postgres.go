package daily

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
)

// PostgresStore stores daily totals in stock_daily_stat.
type PostgresStore struct {
	db dbtx.DBTX
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db dbtx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert implements Store with one INSERT ... ON CONFLICT over unnested
// arrays. Conflicting rows are added to, never overwritten.
func (s *PostgresStore) Upsert(ctx context.Context, groups []Group, now time.Time) (int, error) {
	if len(groups) == 0 {
		return 0, nil
	}
	n := len(groups)
	var (
		products   = make([]int64, n)
		warehouses = make([]int64, n)
		dates      = make([]time.Time, n)
		types      = make([]string, n)
		qtys       = make([]float64, n)
		counts     = make([]int64, n)
		firsts     = make([]time.Time, n)
		lasts      = make([]time.Time, n)
	)
	for i, g := range groups {
		products[i] = g.Key.ProductID
		warehouses[i] = g.Key.WarehouseID
		dates[i] = g.Key.Date
		types[i] = string(g.Key.RecordType)
		qtys[i] = g.Quantity.InexactFloat64()
		counts[i] = g.Count
		firsts[i] = g.First
		lasts[i] = g.Last
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO stock_daily_stat AS d
			(product_id, warehouse_id, stat_date, record_type,
			 quantity_total, event_count, first_event_at, last_event_at, last_updated)
		SELECT u.p, u.w, u.d, u.t, u.q, u.c, u.f, u.l, $9::timestamptz
		FROM unnest($1::bigint[], $2::bigint[], $3::date[], $4::text[],
		            $5::float8[], $6::bigint[], $7::timestamptz[], $8::timestamptz[])
			AS u(p, w, d, t, q, c, f, l)
		ON CONFLICT (product_id, warehouse_id, stat_date, record_type) DO UPDATE SET
			quantity_total = d.quantity_total + EXCLUDED.quantity_total,
			event_count    = d.event_count + EXCLUDED.event_count,
			first_event_at = LEAST(d.first_event_at, EXCLUDED.first_event_at),
			last_event_at  = GREATEST(d.last_event_at, EXCLUDED.last_event_at),
			last_updated   = EXCLUDED.last_updated`,
		products, warehouses, dates, types, qtys, counts, firsts, lasts, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert daily stats: %w", err)
	}
	return n, nil
}

// Range implements Store.
func (s *PostgresStore) Range(ctx context.Context, pairs []domain.Pair, from, to time.Time) ([]domain.DailyStat, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	products := make([]int64, len(pairs))
	warehouses := make([]int64, len(pairs))
	for i, p := range pairs {
		products[i], warehouses[i] = p.ProductID, p.WarehouseID
	}

	rows, err := s.db.Query(ctx, `
		SELECT d.product_id, d.warehouse_id, d.stat_date, d.record_type,
			d.quantity_total, d.event_count, d.first_event_at, d.last_event_at, d.last_updated
		FROM stock_daily_stat d
		JOIN unnest($1::bigint[], $2::bigint[]) AS k(p, w)
			ON d.product_id = k.p AND d.warehouse_id = k.w
		WHERE d.stat_date BETWEEN $3::date AND $4::date
		ORDER BY d.product_id, d.warehouse_id, d.stat_date, d.record_type`,
		products, warehouses, domain.Day(from), domain.Day(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DailyStat, error) {
		var (
			st         domain.DailyStat
			recordType string
		)
		err := row.Scan(&st.ProductID, &st.WarehouseID, &st.Date, &recordType,
			&st.QuantityTotal, &st.EventCount, &st.FirstEventAt, &st.LastEventAt, &st.LastUpdated)
		st.RecordType = domain.RecordType(recordType)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan daily stats: %w", err)
	}
	return out, nil
}

// Purge implements Store.
func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM stock_daily_stat WHERE stat_date < $1::date`, domain.Day(before))
	if err != nil {
		return 0, fmt.Errorf("purge daily stats: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Pairs implements Store.
func (s *PostgresStore) Pairs(ctx context.Context, after domain.Pair, limit int) ([]domain.Pair, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT product_id, warehouse_id
		FROM stock_daily_stat
		WHERE (product_id, warehouse_id) > ($1, $2)
		ORDER BY product_id, warehouse_id
		LIMIT $3`,
		after.ProductID, after.WarehouseID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list daily pairs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Pair, error) {
		var p domain.Pair
		err := row.Scan(&p.ProductID, &p.WarehouseID)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan daily pairs: %w", err)
	}
	return out, nil
}
