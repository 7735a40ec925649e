// Package deadletter stores events that could not be processed, together
// with the error that stopped them, until an operator or the retry job acts.
package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
)

// DefaultListLimit and MaxListLimit bound List pages.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Store is the dead letter contract.
type Store interface {
	// Send stores entries. An entry whose event links an existing entry
	// (Event.DeadLetterID) updates that entry back to pending instead of
	// creating a second one. Resolved and discarded entries are never
	// reopened; such entries are left out of the result.
	Send(ctx context.Context, entries []domain.DeadLetterEntry) ([]domain.DeadLetterEntry, error)

	// LockStates returns the state of the entries among ids. In a
	// transaction the rows stay locked until it ends.
	LockStates(ctx context.Context, ids []string) (map[string]domain.DeadLetterState, error)

	// Get returns one entry or apperrors.ErrNotFound.
	Get(ctx context.Context, id string) (domain.DeadLetterEntry, error)

	// List returns entries matching filter, newest failure first.
	List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error)

	// Stats counts entries by kind and state.
	Stats(ctx context.Context) (domain.DeadLetterStats, error)

	// Transition moves the entries among ids whose state is one of from to
	// state to, and returns the moved entries.
	Transition(ctx context.Context, ids []string, from []domain.DeadLetterState, to domain.DeadLetterState, now time.Time) ([]domain.DeadLetterEntry, error)

	// SweepTerminal deletes resolved and discarded entries last updated
	// before the given time.
	SweepTerminal(ctx context.Context, before time.Time) (int64, error)

	// PendingRetryable returns up to limit pending entries of the given
	// kinds with retry_count below maxRetries, oldest failure first.
	PendingRetryable(ctx context.Context, kinds []apperrors.Kind, maxRetries, limit int) ([]domain.DeadLetterEntry, error)
}

// NewEntry snapshots ev as a pending entry. Events re-enqueued from an
// existing entry keep that entry's id.
func NewEntry(ev domain.RawEvent, kind apperrors.Kind, message, batchID string, now time.Time) domain.DeadLetterEntry {
	id := ev.DeadLetterID
	if id == "" {
		id = newID()
	}
	now = now.UTC()
	return domain.DeadLetterEntry{
		ID:                 id,
		Event:              ev,
		OriginalEnqueuedAt: ev.EnqueuedAt,
		RetryCount:         ev.RetryCount,
		FailedAt:           now,
		ErrorKind:          kind,
		ErrorMessage:       message,
		State:              domain.DeadLetterPending,
		BatchID:            batchID,
		UpdatedAt:          now,
	}
}

// SendToDeadLetter stores a single failed event.
func SendToDeadLetter(ctx context.Context, s Store, ev domain.RawEvent, message string, kind apperrors.Kind, batchID string, now time.Time) (domain.DeadLetterEntry, error) {
	e := NewEntry(ev, kind, message, batchID, now)
	out, err := s.Send(ctx, []domain.DeadLetterEntry{e})
	if err != nil {
		return domain.DeadLetterEntry{}, err
	}
	if len(out) == 0 {
		return s.Get(ctx, e.ID)
	}
	return out[0], nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
