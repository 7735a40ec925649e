package intake

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
)

const queueTable = "stock_event_queue"

// enqueued_at is left to the column default so every producer host stamps
// events with the database clock.
var queueColumns = []string{
	"product_id", "warehouse_id", "quantity", "event_date", "record_type",
	"is_legacy_source", "source_ref", "retry_count", "dead_letter_id",
}

// PostgresQueue stores the queue in stock_event_queue.
type PostgresQueue struct {
	db dbtx.DBTX
}

// NewPostgresQueue creates a queue on db.
func NewPostgresQueue(db dbtx.DBTX) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// WithTx returns a queue bound to tx.
func (q *PostgresQueue) WithTx(tx pgx.Tx) *PostgresQueue {
	return &PostgresQueue{db: tx}
}

// Enqueue implements Queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, ev domain.RawEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO stock_event_queue
			(product_id, warehouse_id, quantity, event_date, record_type,
			 is_legacy_source, source_ref, retry_count, dead_letter_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ProductID, ev.WarehouseID, ev.Quantity, domain.Day(ev.EventDate), string(ev.RecordType),
		ev.IsLegacySource, ev.SourceRef, ev.RetryCount, nullableText(ev.DeadLetterID),
	)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// EnqueueBatch implements Queue using COPY so large producer batches cost one
// round trip.
func (q *PostgresQueue) EnqueueBatch(ctx context.Context, evs []domain.RawEvent) (int, error) {
	if len(evs) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(evs))
	for _, ev := range evs {
		rows = append(rows, []any{
			ev.ProductID, ev.WarehouseID, ev.Quantity, domain.Day(ev.EventDate), string(ev.RecordType),
			ev.IsLegacySource, ev.SourceRef, ev.RetryCount, nullableText(ev.DeadLetterID),
		})
	}
	n, err := q.db.CopyFrom(ctx, pgx.Identifier{queueTable}, queueColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("enqueue batch: %w", err)
	}
	return int(n), nil
}

// ConsumeBatch implements Queue with a single DELETE ... RETURNING. SKIP LOCKED
// lets concurrent consumers take disjoint batches without waiting.
func (q *PostgresQueue) ConsumeBatch(ctx context.Context, maxSize int) ([]domain.RawEvent, error) {
	if maxSize <= 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `
		DELETE FROM stock_event_queue
		WHERE id IN (
			SELECT id FROM stock_event_queue
			ORDER BY enqueued_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, product_id, warehouse_id, quantity, event_date, record_type,
			is_legacy_source, source_ref, enqueued_at, retry_count, COALESCE(dead_letter_id, '')`,
		maxSize,
	)
	if err != nil {
		return nil, fmt.Errorf("consume batch: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawEvent, error) {
		var (
			ev         domain.RawEvent
			recordType string
		)
		err := row.Scan(&ev.ID, &ev.ProductID, &ev.WarehouseID, &ev.Quantity, &ev.EventDate, &recordType,
			&ev.IsLegacySource, &ev.SourceRef, &ev.EnqueuedAt, &ev.RetryCount, &ev.DeadLetterID)
		ev.RecordType = domain.RecordType(recordType)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("consume batch: %w", err)
	}
	// RETURNING order is unspecified.
	slices.SortFunc(events, func(a, b domain.RawEvent) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return events, nil
}

// Stats implements Queue.
func (q *PostgresQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	stats := domain.QueueStats{ByWarehouse: map[int64]int64{}}
	err := q.db.QueryRow(ctx, `
		SELECT count(*),
			COALESCE(EXTRACT(EPOCH FROM (clock_timestamp() - min(enqueued_at))), 0)::float8,
			COALESCE(avg(EXTRACT(EPOCH FROM (clock_timestamp() - enqueued_at))), 0)::float8
		FROM stock_event_queue`,
	).Scan(&stats.Count, &stats.OldestAgeSeconds, &stats.AvgAgeSeconds)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	if stats.Count == 0 {
		return stats, nil
	}
	stats.OldestAgeSeconds = max(stats.OldestAgeSeconds, 0)
	stats.AvgAgeSeconds = max(stats.AvgAgeSeconds, 0)

	rows, err := q.db.Query(ctx, `
		SELECT warehouse_id, count(*) FROM stock_event_queue GROUP BY warehouse_id`)
	if err != nil {
		return stats, fmt.Errorf("queue stats by warehouse: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wh, n int64
		if err := rows.Scan(&wh, &n); err != nil {
			return stats, fmt.Errorf("scan queue stats: %w", err)
		}
		stats.ByWarehouse[wh] = n
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("queue stats by warehouse: %w", err)
	}
	return stats, nil
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
