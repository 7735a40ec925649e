package rolling

import (
	"context"
	"fmt"
	"slices"
	"time"

	"stockpulse.io/stockpulse/internal/daily"
	"stockpulse.io/stockpulse/internal/domain"
)

// HybridSet is the set of warehouses whose reordering considers sale and
// transfer demand together.
type HybridSet map[int64]struct{}

// NewHybridSet builds a set from warehouse ids.
func NewHybridSet(ids ...int64) HybridSet {
	s := make(HybridSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether warehouse id is hybrid. A nil set contains nothing.
func (s HybridSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Calculator recomputes rolling statistics for touched pairs.
type Calculator struct {
	Hybrid HybridSet
	Now    func() time.Time
}

// UpdateRollingStats recomputes sale and transfer statistics (plus combined
// for hybrid warehouses) of every pair from src and replaces them in dst. It
// returns the number of stats written.
func (c Calculator) UpdateRollingStats(ctx context.Context, src daily.Store, dst Store, pairs []domain.Pair, source domain.CalculationSource) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	if !source.Valid() {
		return 0, fmt.Errorf("unknown calculation source %q", source)
	}
	pairs = uniquePairs(pairs)

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	calculated := now().UTC()
	asOf := domain.Day(calculated)
	from := asOf.AddDate(0, 0, -(domain.MaxWindow - 1))

	if err := dst.Lock(ctx, pairs); err != nil {
		return 0, err
	}
	rows, err := src.Range(ctx, pairs, from, asOf)
	if err != nil {
		return 0, fmt.Errorf("load daily totals: %w", err)
	}
	series := make(map[domain.Pair]map[domain.RecordType]Series, len(pairs))
	for _, row := range rows {
		byType, ok := series[row.Pair()]
		if !ok {
			byType = map[domain.RecordType]Series{}
			series[row.Pair()] = byType
		}
		s, ok := byType[row.RecordType]
		if !ok {
			s = Series{}
			byType[row.RecordType] = s
		}
		s[domain.Day(row.Date)] += row.QuantityTotal
	}

	stats := make([]domain.RollingStat, 0, len(pairs)*3)
	for _, p := range pairs {
		byType := series[p]
		for _, rt := range domain.EventRecordTypes {
			stats = append(stats, newStat(p, rt, Compute(byType[rt], asOf), calculated, source))
		}
		if c.Hybrid.Contains(p.WarehouseID) {
			combined := Merge(byType[domain.RecordSale], byType[domain.RecordTransfer])
			stats = append(stats, newStat(p, domain.RecordCombined, Compute(combined, asOf), calculated, source))
		}
	}
	if err := dst.Replace(ctx, stats); err != nil {
		return 0, err
	}
	return len(stats), nil
}

// Stats is the lookup result of one window.
type Stats struct {
	domain.WindowStats
	Found bool `json:"found"`
}

// GetStats returns the stored statistics of one window. Unknown keys return
// Found=false and no error.
func GetStats(ctx context.Context, s Store, productID, warehouseID int64, rt domain.RecordType, windowDays int) (Stats, error) {
	if !domain.ValidWindow(windowDays) {
		return Stats{}, fmt.Errorf("window %d is not one of %v", windowDays, domain.Windows)
	}
	st, found, err := s.Get(ctx, domain.RollingKey{ProductID: productID, WarehouseID: warehouseID, RecordType: rt})
	if err != nil || !found {
		return Stats{}, err
	}
	ws, ok := st.Window(windowDays)
	return Stats{WindowStats: ws, Found: ok}, nil
}

func newStat(p domain.Pair, rt domain.RecordType, windows map[int]domain.WindowStats, at time.Time, source domain.CalculationSource) domain.RollingStat {
	return domain.RollingStat{
		RollingKey:        domain.RollingKey{ProductID: p.ProductID, WarehouseID: p.WarehouseID, RecordType: rt},
		Windows:           windows,
		LastCalculated:    at,
		CalculationSource: source,
	}
}

func uniquePairs(pairs []domain.Pair) []domain.Pair {
	out := slices.Clone(pairs)
	slices.SortFunc(out, func(a, b domain.Pair) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return slices.Compact(out)
}
