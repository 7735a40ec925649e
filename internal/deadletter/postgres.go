package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
)

const entryColumns = `id, product_id, warehouse_id, quantity, event_date, record_type,
	is_legacy_source, source_ref, original_enqueued_at, retry_count, failed_at,
	error_kind, error_message, state, batch_id, updated_at`

// PostgresStore stores entries in stock_event_dead_letter.
type PostgresStore struct {
	db dbtx.DBTX
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db dbtx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const sendSQL = `
	INSERT INTO stock_event_dead_letter (` + entryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO UPDATE SET
		retry_count   = EXCLUDED.retry_count,
		failed_at     = EXCLUDED.failed_at,
		error_kind    = EXCLUDED.error_kind,
		error_message = EXCLUDED.error_message,
		state         = EXCLUDED.state,
		batch_id      = EXCLUDED.batch_id,
		updated_at    = EXCLUDED.updated_at
	WHERE stock_event_dead_letter.state NOT IN ('resolved', 'discarded')
	RETURNING ` + entryColumns

// Send implements Store.
func (s *PostgresStore) Send(ctx context.Context, entries []domain.DeadLetterEntry) ([]domain.DeadLetterEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	b := &pgx.Batch{}
	for _, e := range entries {
		ev := e.Event
		b.Queue(sendSQL,
			e.ID, ev.ProductID, ev.WarehouseID, ev.Quantity, domain.Day(ev.EventDate), string(ev.RecordType),
			ev.IsLegacySource, ev.SourceRef, e.OriginalEnqueuedAt, e.RetryCount, e.FailedAt,
			string(e.ErrorKind), e.ErrorMessage, string(e.State), e.BatchID, e.UpdatedAt,
		)
	}
	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	out := make([]domain.DeadLetterEntry, 0, len(entries))
	for range entries {
		e, err := scanEntry(br.QueryRow())
		if errors.Is(err, pgx.ErrNoRows) {
			// Terminal entry, left as is.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("send to dead letter: %w", err)
		}
		out = append(out, e)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("send to dead letter: %w", err)
	}
	return out, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.DeadLetterEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_event_dead_letter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return e, fmt.Errorf("dead letter %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("get dead letter %s: %w", id, err)
	}
	return e, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("error_kind = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	sql := `SELECT ` + entryColumns + ` FROM stock_event_dead_letter`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, normalizeLimit(filter.Limit), max(filter.Offset, 0))
	sql += fmt.Sprintf(" ORDER BY failed_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryEntries(ctx, "list dead letters", sql, args...)
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT error_kind, state, count(*)
		FROM stock_event_dead_letter
		GROUP BY error_kind, state`)
	if err != nil {
		return nil, fmt.Errorf("dead letter stats: %w", err)
	}
	defer rows.Close()

	stats := domain.DeadLetterStats{}
	for rows.Next() {
		var (
			kind, state string
			n           int64
		)
		if err := rows.Scan(&kind, &state, &n); err != nil {
			return nil, fmt.Errorf("scan dead letter stats: %w", err)
		}
		stats.Add(apperrors.Kind(kind), domain.DeadLetterState(state), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dead letter stats: %w", err)
	}
	return stats, nil
}

// Transition implements Store.
func (s *PostgresStore) Transition(ctx context.Context, ids []string, from []domain.DeadLetterState, to domain.DeadLetterState, now time.Time) ([]domain.DeadLetterEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	return s.queryEntries(ctx, "transition dead letters", `
		UPDATE stock_event_dead_letter
		SET state = $1, updated_at = $2
		WHERE id = ANY($3) AND state = ANY($4)
		RETURNING `+entryColumns,
		string(to), now.UTC(), ids, states,
	)
}

// LockStates implements Store with SELECT ... FOR UPDATE, so a concurrent
// discard or resolve waits for the caller's transaction.
func (s *PostgresStore) LockStates(ctx context.Context, ids []string) (map[string]domain.DeadLetterState, error) {
	states := make(map[string]domain.DeadLetterState, len(ids))
	if len(ids) == 0 {
		return states, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, state FROM stock_event_dead_letter
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock dead letter states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("scan dead letter state: %w", err)
		}
		states[id] = domain.DeadLetterState(state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock dead letter states: %w", err)
	}
	return states, nil
}

// SweepTerminal implements Store.
func (s *PostgresStore) SweepTerminal(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM stock_event_dead_letter
		WHERE state IN ('resolved', 'discarded') AND updated_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingRetryable implements Store. Selected rows stay locked until the
// surrounding transaction ends; concurrent callers skip them.
func (s *PostgresStore) PendingRetryable(ctx context.Context, kinds []apperrors.Kind, maxRetries, limit int) ([]domain.DeadLetterEntry, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.queryEntries(ctx, "pending retryable dead letters", `
		SELECT `+entryColumns+`
		FROM stock_event_dead_letter
		WHERE state = 'pending' AND error_kind = ANY($1) AND retry_count < $2
		ORDER BY failed_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		names, maxRetries, limit,
	)
}

func (s *PostgresStore) queryEntries(ctx context.Context, op, sql string, args ...any) ([]domain.DeadLetterEntry, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DeadLetterEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (domain.DeadLetterEntry, error) {
	var (
		e                       domain.DeadLetterEntry
		recordType, kind, state string
	)
	err := row.Scan(
		&e.ID, &e.Event.ProductID, &e.Event.WarehouseID, &e.Event.Quantity, &e.Event.EventDate, &recordType,
		&e.Event.IsLegacySource, &e.Event.SourceRef, &e.OriginalEnqueuedAt, &e.RetryCount, &e.FailedAt,
		&kind, &e.ErrorMessage, &state, &e.BatchID, &e.UpdatedAt,
	)
	if err != nil {
		return domain.DeadLetterEntry{}, err
	}
	e.Event.RecordType = domain.RecordType(recordType)
	e.Event.EnqueuedAt = e.OriginalEnqueuedAt
	e.Event.RetryCount = e.RetryCount
	e.ErrorKind = apperrors.Kind(kind)
	e.State = domain.DeadLetterState(state)
	return e, nil
}
