package rolling

import (
	"context"
	"sync"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// Store persists rolling statistics with replace semantics.
type Store interface {
	// Lock serializes recomputes of pairs until the surrounding unit of
	// work ends. pairs must be sorted so concurrent callers lock in the
	// same order.
	Lock(ctx context.Context, pairs []domain.Pair) error
	// Replace writes each stat over any existing row with the same key.
	Replace(ctx context.Context, stats []domain.RollingStat) error
	// Get returns the stat for key; found is false when none exists.
	Get(ctx context.Context, key domain.RollingKey) (stat domain.RollingStat, found bool, err error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[domain.RollingKey]domain.RollingStat
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[domain.RollingKey]domain.RollingStat{}}
}

// Lock implements Store. Memory units of work already run one at a time.
func (s *MemoryStore) Lock(ctx context.Context, _ []domain.Pair) error {
	return ctx.Err()
}

// Replace implements Store.
func (s *MemoryStore) Replace(ctx context.Context, stats []domain.RollingStat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := txlog.FromContext(ctx)
	for _, st := range stats {
		prev, existed := s.rows[st.RollingKey]
		s.rows[st.RollingKey] = cloneStat(st)
		key := st.RollingKey
		j.Record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existed {
				s.rows[key] = prev
			} else {
				delete(s.rows, key)
			}
		})
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key domain.RollingKey) (domain.RollingStat, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.RollingStat{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rows[key]
	if !ok {
		return domain.RollingStat{}, false, nil
	}
	return cloneStat(st), true, nil
}

// Len returns the number of stored stats.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func cloneStat(st domain.RollingStat) domain.RollingStat {
	windows := make(map[int]domain.WindowStats, len(st.Windows))
	for k, v := range st.Windows {
		windows[k] = v
	}
	st.Windows = windows
	return st
}
