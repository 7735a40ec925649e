package processor

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/rolling"
	"stockpulse.io/stockpulse/internal/storage"
)

// drainBacklog refreshes pairs deferred by earlier runs.
func (p *Processor) drainBacklog(ctx context.Context, rules *reorder.RuleSet, hybrid rolling.HybridSet) (refreshed, deferred int) {
	stores := p.uow.Stores()
	pairs, err := stores.Backlog.Take(ctx, p.cfg.BacklogLimit)
	if err != nil {
		logger.Warn("Orderpoint backlog unavailable", zap.Error(err))
		return 0, 0
	}
	if len(pairs) == 0 {
		return 0, 0
	}

	warehouses := make([]int64, 0, len(pairs))
	for _, pair := range pairs {
		warehouses = append(warehouses, pair.WarehouseID)
	}
	slices.Sort(warehouses)
	snap, err := stores.Catalog.Lookup(ctx, nil, slices.Compact(warehouses))
	if err != nil {
		p.park(ctx, pairs, apperrors.KindOf(err), err)
		return 0, len(pairs)
	}
	logger.Info("Draining orderpoint backlog", zap.Int("pairs", len(pairs)))
	return p.refresh(ctx, rules, hybrid, pairs, snap.Warehouses)
}

// refresh evaluates the rule engine for pairs and stores the orderpoints.
// Pairs that could not be served go to the backlog.
func (p *Processor) refresh(ctx context.Context, rules *reorder.RuleSet, hybrid rolling.HybridSet, pairs []domain.Pair, locations map[int64]int64) (refreshed, deferred int) {
	if len(pairs) == 0 {
		return 0, 0
	}
	inputs, err := loadInputs(ctx, p.uow.Stores().Rolling, pairs, hybrid)
	if err != nil {
		p.park(ctx, pairs, apperrors.KindOf(err), err)
		return 0, len(pairs)
	}

	now := p.now()
	out := p.refresher.Refresh(ctx, rules, inputs, locations, now)
	byKind := map[apperrors.Kind][]domain.Pair{}
	for pair, err := range out.Skipped {
		kind := apperrors.KindOf(err)
		byKind[kind] = append(byKind[kind], pair)
	}

	err = p.uow.Do(context.WithoutCancel(ctx), func(ctx context.Context, tx storage.Tx) error {
		s := tx.Stores()
		if len(out.Orderpoints) > 0 {
			if err := s.Orderpoints.Upsert(ctx, out.Orderpoints); err != nil {
				return fmt.Errorf("upsert orderpoints: %w", err)
			}
		}
		for kind, skipped := range byKind {
			slices.SortFunc(skipped, comparePairs)
			if err := s.Backlog.Add(ctx, skipped, string(kind), now); err != nil {
				return fmt.Errorf("add refresh backlog: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Orderpoint refresh not stored",
			zap.Int("pairs", len(pairs)),
			zap.Error(err),
		)
		p.park(ctx, pairs, apperrors.KindOf(err), err)
		return 0, len(pairs)
	}
	return len(out.Orderpoints), len(out.Skipped)
}

// park puts pairs on the backlog on a best effort basis.
func (p *Processor) park(ctx context.Context, pairs []domain.Pair, kind apperrors.Kind, cause error) {
	logger.Warn("Deferring orderpoint refresh",
		zap.Int("pairs", len(pairs)),
		zap.String("error_kind", string(kind)),
		zap.Error(cause),
	)
	if err := p.uow.Stores().Backlog.Add(context.WithoutCancel(ctx), pairs, string(kind), p.now()); err != nil {
		logger.Error("Orderpoint backlog write failed", zap.Int("pairs", len(pairs)), zap.Error(err))
	}
}

func loadInputs(ctx context.Context, s rolling.Store, pairs []domain.Pair, hybrid rolling.HybridSet) ([]reorder.Input, error) {
	inputs := make([]reorder.Input, 0, len(pairs))
	for _, pair := range pairs {
		in := reorder.Input{
			Pair:   pair,
			Hybrid: hybrid.Contains(pair.WarehouseID),
			Stats:  map[domain.RecordType]domain.RollingStat{},
		}
		for _, rt := range []domain.RecordType{domain.RecordSale, domain.RecordTransfer, domain.RecordCombined} {
			stat, found, err := s.Get(ctx, domain.RollingKey{ProductID: pair.ProductID, WarehouseID: pair.WarehouseID, RecordType: rt})
			if err != nil {
				return nil, fmt.Errorf("load rolling stats of %s: %w", pair, err)
			}
			if found {
				in.Stats[rt] = stat
			}
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
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
