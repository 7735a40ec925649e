package rolling

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
)

// PostgresStore stores rolling statistics in stock_rolling_stat, one column
// group per window.
type PostgresStore struct {
	db dbtx.DBTX
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db dbtx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const replaceSQL = `
	INSERT INTO stock_rolling_stat (
		product_id, warehouse_id, record_type,
		mean_30, stddev_30, cv_30, total_qty_30, days_active_30,
		mean_60, stddev_60, cv_60, total_qty_60, days_active_60,
		mean_90, stddev_90, cv_90, total_qty_90, days_active_90,
		last_calculated, calculation_source)
	VALUES ($1, $2, $3,
		$4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18,
		$19, $20)
	ON CONFLICT (product_id, warehouse_id, record_type) DO UPDATE SET
		mean_30 = EXCLUDED.mean_30, stddev_30 = EXCLUDED.stddev_30, cv_30 = EXCLUDED.cv_30,
		total_qty_30 = EXCLUDED.total_qty_30, days_active_30 = EXCLUDED.days_active_30,
		mean_60 = EXCLUDED.mean_60, stddev_60 = EXCLUDED.stddev_60, cv_60 = EXCLUDED.cv_60,
		total_qty_60 = EXCLUDED.total_qty_60, days_active_60 = EXCLUDED.days_active_60,
		mean_90 = EXCLUDED.mean_90, stddev_90 = EXCLUDED.stddev_90, cv_90 = EXCLUDED.cv_90,
		total_qty_90 = EXCLUDED.total_qty_90, days_active_90 = EXCLUDED.days_active_90,
		last_calculated = EXCLUDED.last_calculated,
		calculation_source = EXCLUDED.calculation_source`

// Lock implements Store with one transaction-scoped advisory lock per pair,
// taken in the given order. A recompute waiting here reads daily totals only
// after the holder committed, so the last Replace of a pair always sees every
// committed day.
func (s *PostgresStore) Lock(ctx context.Context, pairs []domain.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, p := range pairs {
		b.Queue(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(p))
	}
	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("lock rolling pairs: %w", err)
	}
	return nil
}

func lockKey(p domain.Pair) string {
	return fmt.Sprintf("stock_rolling_stat:%d:%d", p.ProductID, p.WarehouseID)
}

// Replace implements Store. Rows are sent as one pipelined batch.
func (s *PostgresStore) Replace(ctx context.Context, stats []domain.RollingStat) error {
	if len(stats) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, st := range stats {
		args := []any{st.ProductID, st.WarehouseID, string(st.RecordType)}
		for _, w := range domain.Windows {
			ws := st.Windows[w]
			args = append(args, ws.Mean, ws.StdDev, ws.CV, ws.TotalQty, ws.DaysWithActivity)
		}
		args = append(args, st.LastCalculated.UTC(), string(st.CalculationSource))
		b.Queue(replaceSQL, args...)
	}
	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("replace rolling stats: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key domain.RollingKey) (domain.RollingStat, bool, error) {
	st := domain.RollingStat{RollingKey: key, Windows: make(map[int]domain.WindowStats, len(domain.Windows))}
	var (
		w      [3]domain.WindowStats
		source string
	)
	err := s.db.QueryRow(ctx, `
		SELECT mean_30, stddev_30, cv_30, total_qty_30, days_active_30,
			mean_60, stddev_60, cv_60, total_qty_60, days_active_60,
			mean_90, stddev_90, cv_90, total_qty_90, days_active_90,
			last_calculated, calculation_source
		FROM stock_rolling_stat
		WHERE product_id = $1 AND warehouse_id = $2 AND record_type = $3`,
		key.ProductID, key.WarehouseID, string(key.RecordType),
	).Scan(
		&w[0].Mean, &w[0].StdDev, &w[0].CV, &w[0].TotalQty, &w[0].DaysWithActivity,
		&w[1].Mean, &w[1].StdDev, &w[1].CV, &w[1].TotalQty, &w[1].DaysWithActivity,
		&w[2].Mean, &w[2].StdDev, &w[2].CV, &w[2].TotalQty, &w[2].DaysWithActivity,
		&st.LastCalculated, &source,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RollingStat{}, false, nil
	}
	if err != nil {
		return domain.RollingStat{}, false, fmt.Errorf("get rolling stat %v: %w", key, err)
	}
	for i, days := range domain.Windows {
		w[i].Days = days
		st.Windows[days] = w[i]
	}
	st.CalculationSource = domain.CalculationSource(source)
	return st, true, nil
}
