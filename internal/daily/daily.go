// Package daily folds raw events into per-day totals keyed by product,
// warehouse, date and record type.
//
// Writes are additive merges: a group colliding with an existing row adds its
// partial sums to the row. Batch order therefore never changes the final
// totals.
package daily

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"stockpulse.io/stockpulse/internal/domain"
)

// Group is the in-memory partial sum of one DailyKey within a batch.
type Group struct {
	Key      domain.DailyKey
	Quantity decimal.Decimal
	Count    int64
	First    time.Time
	Last     time.Time
}

// Store persists daily totals.
type Store interface {
	// Upsert merges groups into stored rows and returns the number of keys
	// written.
	Upsert(ctx context.Context, groups []Group, now time.Time) (int, error)

	// Range returns the rows of pairs with from <= date <= to.
	Range(ctx context.Context, pairs []domain.Pair, from, to time.Time) ([]domain.DailyStat, error)

	// Purge deletes rows dated before the given day.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// Pairs pages through the distinct pairs present, ordered, strictly
	// after the given pair.
	Pairs(ctx context.Context, after domain.Pair, limit int) ([]domain.Pair, error)
}

// GroupEvents sums events by DailyKey. Quantities are summed exactly; the
// result is ordered by key so stores lock rows in a stable order.
func GroupEvents(evs []domain.RawEvent) []Group {
	if len(evs) == 0 {
		return nil
	}
	idx := make(map[domain.DailyKey]int, len(evs))
	groups := make([]Group, 0, len(evs))
	for _, ev := range evs {
		key := domain.DailyKey{
			ProductID:   ev.ProductID,
			WarehouseID: ev.WarehouseID,
			Date:        domain.Day(ev.EventDate),
			RecordType:  ev.RecordType,
		}
		at := eventTime(ev)
		i, ok := idx[key]
		if !ok {
			idx[key] = len(groups)
			groups = append(groups, Group{Key: key, Quantity: decimal.NewFromFloat(ev.Quantity), Count: 1, First: at, Last: at})
			continue
		}
		g := &groups[i]
		g.Quantity = g.Quantity.Add(decimal.NewFromFloat(ev.Quantity))
		g.Count++
		if at.Before(g.First) {
			g.First = at
		}
		if at.After(g.Last) {
			g.Last = at
		}
	}
	slices.SortFunc(groups, func(a, b Group) int { return CompareKeys(a.Key, b.Key) })
	return groups
}

// UpsertDaily groups evs and merges them into s. An empty batch is a no-op.
func UpsertDaily(ctx context.Context, s Store, evs []domain.RawEvent, now time.Time) (int, error) {
	if len(evs) == 0 {
		return 0, nil
	}
	return s.Upsert(ctx, GroupEvents(evs), now)
}

// CompareKeys orders keys by product, warehouse, date, record type.
func CompareKeys(a, b domain.DailyKey) int {
	return cmp.Or(
		cmp.Compare(a.ProductID, b.ProductID),
		cmp.Compare(a.WarehouseID, b.WarehouseID),
		a.Date.Compare(b.Date),
		cmp.Compare(a.RecordType, b.RecordType),
	)
}

// eventTime is the commit time of an event: its enqueue time, or the event
// date for events that never went through the queue.
func eventTime(ev domain.RawEvent) time.Time {
	if !ev.EnqueuedAt.IsZero() {
		return ev.EnqueuedAt.UTC()
	}
	return domain.Day(ev.EventDate)
}
