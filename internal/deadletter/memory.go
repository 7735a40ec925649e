package deadletter

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.DeadLetterEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]domain.DeadLetterEntry{}}
}

// Send implements Store.
func (s *MemoryStore) Send(ctx context.Context, entries []domain.DeadLetterEntry) ([]domain.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := txlog.FromContext(ctx)
	out := make([]domain.DeadLetterEntry, 0, len(entries))
	for _, e := range entries {
		prev, existed := s.entries[e.ID]
		if existed && prev.State.Terminal() {
			continue
		}
		if existed {
			e.Event = prev.Event
			e.Event.RetryCount = e.RetryCount
			e.OriginalEnqueuedAt = prev.OriginalEnqueuedAt
		}
		e.Event.ID, e.Event.DeadLetterID = 0, ""
		s.entries[e.ID] = e
		out = append(out, e)
		s.recordRestore(j, e.ID, prev, existed)
	}
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (domain.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeadLetterEntry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.DeadLetterEntry{}, fmt.Errorf("dead letter %s: %w", id, apperrors.ErrNotFound)
	}
	return e, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []domain.DeadLetterEntry
	for _, e := range s.entries {
		if filter.Kind != "" && e.ErrorKind != filter.Kind {
			continue
		}
		if filter.State != "" && e.State != filter.State {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.DeadLetterEntry) int {
		if c := b.FailedAt.Compare(a.FailedAt); c != 0 {
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
	offset := max(filter.Offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := domain.DeadLetterStats{}
	for _, e := range s.entries {
		stats.Add(e.ErrorKind, e.State, 1)
	}
	return stats, nil
}

// Transition implements Store.
func (s *MemoryStore) Transition(ctx context.Context, ids []string, from []domain.DeadLetterState, to domain.DeadLetterState, now time.Time) ([]domain.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := txlog.FromContext(ctx)
	var out []domain.DeadLetterEntry
	for _, id := range ids {
		prev, ok := s.entries[id]
		if !ok || !slices.Contains(from, prev.State) {
			continue
		}
		e := prev
		e.State = to
		e.UpdatedAt = now.UTC()
		s.entries[id] = e
		out = append(out, e)
		s.recordRestore(j, id, prev, true)
	}
	return out, nil
}

// LockStates implements Store. The store mutex already orders writers, so
// nothing stays locked.
func (s *MemoryStore) LockStates(ctx context.Context, ids []string) (map[string]domain.DeadLetterState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]domain.DeadLetterState, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			states[id] = e.State
		}
	}
	return states, nil
}

// SweepTerminal implements Store.
func (s *MemoryStore) SweepTerminal(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := txlog.FromContext(ctx)
	var n int64
	for id, e := range s.entries {
		if e.State.Terminal() && e.UpdatedAt.Before(before) {
			delete(s.entries, id)
			s.recordRestore(j, id, e, true)
			n++
		}
	}
	return n, nil
}

// PendingRetryable implements Store.
func (s *MemoryStore) PendingRetryable(ctx context.Context, kinds []apperrors.Kind, maxRetries, limit int) ([]domain.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []domain.DeadLetterEntry
	for _, e := range s.entries {
		if e.State == domain.DeadLetterPending && e.RetryCount < maxRetries && slices.Contains(kinds, e.ErrorKind) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.DeadLetterEntry) int {
		if c := a.FailedAt.Compare(b.FailedAt); c != 0 {
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
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) recordRestore(j *txlog.Journal, id string, prev domain.DeadLetterEntry, existed bool) {
	j.Record(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.entries[id] = prev
		} else {
			delete(s.entries, id)
		}
	})
}
