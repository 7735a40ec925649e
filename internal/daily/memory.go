package daily

import (
	"context"
	"slices"
	"sync"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[domain.DailyKey]domain.DailyStat
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[domain.DailyKey]domain.DailyStat{}}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, groups []Group, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := txlog.FromContext(ctx)
	for _, g := range groups {
		prev, existed := s.rows[g.Key]
		row := prev
		if !existed {
			row = domain.DailyStat{DailyKey: g.Key, FirstEventAt: g.First, LastEventAt: g.Last}
		}
		row.QuantityTotal += g.Quantity.InexactFloat64()
		row.EventCount += g.Count
		if g.First.Before(row.FirstEventAt) {
			row.FirstEventAt = g.First
		}
		if g.Last.After(row.LastEventAt) {
			row.LastEventAt = g.Last
		}
		row.LastUpdated = now.UTC()
		s.rows[g.Key] = row

		key := g.Key
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
	return len(groups), nil
}

// Range implements Store.
func (s *MemoryStore) Range(ctx context.Context, pairs []domain.Pair, from, to time.Time) ([]domain.DailyStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[domain.Pair]struct{}, len(pairs))
	for _, p := range pairs {
		want[p] = struct{}{}
	}
	from, to = domain.Day(from), domain.Day(to)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DailyStat
	for key, row := range s.rows {
		if _, ok := want[key.Pair()]; !ok {
			continue
		}
		if key.Date.Before(from) || key.Date.After(to) {
			continue
		}
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b domain.DailyStat) int { return CompareKeys(a.DailyKey, b.DailyKey) })
	return out, nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	before = domain.Day(before)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := map[domain.DailyKey]domain.DailyStat{}
	for key, row := range s.rows {
		if key.Date.Before(before) {
			removed[key] = row
			delete(s.rows, key)
		}
	}
	if len(removed) > 0 {
		txlog.FromContext(ctx).Record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for key, row := range removed {
				s.rows[key] = row
			}
		})
	}
	return int64(len(removed)), nil
}

// Pairs implements Store.
func (s *MemoryStore) Pairs(ctx context.Context, after domain.Pair, limit int) ([]domain.Pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	seen := map[domain.Pair]struct{}{}
	for key := range s.rows {
		p := key.Pair()
		if after.Less(p) {
			seen[p] = struct{}{}
		}
	}
	s.mu.RUnlock()

	out := make([]domain.Pair, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.SortFunc(out, comparePairs)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the row for key.
func (s *MemoryStore) Get(key domain.DailyKey) (domain.DailyStat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key]
	return row, ok
}

// Len returns the number of rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func comparePairs(a, b domain.Pair) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
