package eventlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
)

const logTable = "stock_event_log"

var logColumns = []string{
	"queue_id", "product_id", "warehouse_id", "quantity", "event_date", "record_type",
	"is_legacy_source", "source_ref", "enqueued_at", "retry_count",
	"processed_at", "batch_id", "processing_time_ms",
}

// PartitionCache remembers partitions known to exist so hot paths skip the
// DDL round trip. It is shared by every PostgresLog of a process.
type PartitionCache struct {
	mu    sync.RWMutex
	known map[time.Time]struct{}
}

// NewPartitionCache creates an empty cache.
func NewPartitionCache() *PartitionCache {
	return &PartitionCache{known: map[time.Time]struct{}{}}
}

func (c *PartitionCache) has(day time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.known[day]
	return ok
}

func (c *PartitionCache) add(day time.Time) {
	c.mu.Lock()
	c.known[day] = struct{}{}
	c.mu.Unlock()
}

func (c *PartitionCache) forget(day time.Time) {
	c.mu.Lock()
	delete(c.known, day)
	c.mu.Unlock()
}

// partitionLockTimeout bounds how long partition DDL waits for writers
// holding the parent table.
const partitionLockTimeout = "5s"

// PostgresLog writes to the range-partitioned stock_event_log table, one
// partition per day.
//
// Rows go through db, which may be a unit-of-work transaction. Partition DDL
// goes through admin in its own short transaction, so a created partition
// never disappears with a rolled back batch.
type PostgresLog struct {
	db    dbtx.DBTX
	admin dbtx.DBTX
	cache *PartitionCache
	now   func() time.Time
}

// NewPostgresLog creates a log. admin defaults to db; cache may be shared
// and defaults to a fresh one.
func NewPostgresLog(db, admin dbtx.DBTX, cache *PartitionCache, now func() time.Time) *PostgresLog {
	if admin == nil {
		admin = db
	}
	if cache == nil {
		cache = NewPartitionCache()
	}
	if now == nil {
		now = time.Now
	}
	return &PostgresLog{db: db, admin: admin, cache: cache, now: now}
}

// LogEvents implements Log. Rows are routed to partitions by COPY into the
// parent table.
func (l *PostgresLog) LogEvents(ctx context.Context, events []domain.RawEvent, batch Batch) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	for _, day := range distinctDays(events) {
		if err := l.EnsurePartitionExists(ctx, day); err != nil {
			return 0, err
		}
	}
	records := Records(events, batch)
	n, err := l.db.CopyFrom(ctx, pgx.Identifier{logTable}, logColumns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{
			r.ID, r.ProductID, r.WarehouseID, r.Quantity, r.EventDate, string(r.RecordType),
			r.IsLegacySource, r.SourceRef, r.EnqueuedAt, r.RetryCount,
			r.ProcessedAt, r.BatchID, r.ProcessingTimeMS,
		}, nil
	}))
	if err != nil {
		return 0, fmt.Errorf("append event log: %w", err)
	}
	return int(n), nil
}

// EnsurePartitionExists implements Log. Losing a creation race to another
// process is not an error.
func (l *PostgresLog) EnsurePartitionExists(ctx context.Context, date time.Time) error {
	day := domain.Day(date)
	if l.cache.has(day) {
		return nil
	}
	ident, err := dbtx.QuoteIdent(PartitionName(day))
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		ident, logTable, day.Format(domain.DateLayout), day.AddDate(0, 0, 1).Format(domain.DateLayout))

	err = pgx.BeginFunc(ctx, l.admin, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+partitionLockTimeout+"'"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, ddl)
		return err
	})
	if err != nil && !isDuplicateObject(err) {
		return fmt.Errorf("ensure partition %s: %w", day.Format(domain.DateLayout), err)
	}
	l.cache.add(day)
	return nil
}

// DropPartitionsOlderThan implements Log.
func (l *PostgresLog) DropPartitionsOlderThan(ctx context.Context, days int) ([]string, error) {
	limit := cutoff(l.now(), days)
	parts, err := l.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	var dropped []string
	for _, p := range parts {
		if !p.Date.Before(limit) {
			continue
		}
		ident, err := dbtx.QuoteIdent(p.Name)
		if err != nil {
			return dropped, err
		}
		if _, err := l.admin.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
			return dropped, fmt.Errorf("drop partition %s: %w", p.Name, err)
		}
		l.cache.forget(p.Date)
		dropped = append(dropped, p.Name)
	}
	return dropped, nil
}

// ListPartitions implements Log. Row counts are planner estimates.
func (l *PostgresLog) ListPartitions(ctx context.Context) ([]Partition, error) {
	rows, err := l.admin.Query(ctx, `
		SELECT c.relname, GREATEST(c.reltuples, 0)::bigint
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		WHERE i.inhparent = 'stock_event_log'::regclass`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var out []Partition
	for rows.Next() {
		var p Partition
		if err := rows.Scan(&p.Name, &p.Rows); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		date, ok := ParsePartitionName(p.Name)
		if !ok {
			continue
		}
		p.Date = date
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	slices.SortFunc(out, func(a, b Partition) int { return a.Date.Compare(b.Date) })
	return out, nil
}

// Count implements Log.
func (l *PostgresLog) Count(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := l.db.QueryRow(ctx,
		`SELECT count(*) FROM stock_event_log WHERE event_date BETWEEN $1::date AND $2::date`,
		domain.Day(from), domain.Day(to),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count event log: %w", err)
	}
	return n, nil
}

func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// duplicate_table, or the pg_type unique index hit by concurrent CREATE.
	return pgErr.Code == "42P07" || pgErr.Code == "23505"
}
