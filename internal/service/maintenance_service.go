package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/eventlog"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/rolling"
	"stockpulse.io/stockpulse/internal/storage"
)

// Retention holds the retention horizons in days.
type Retention struct {
	DailyStatsDays int
	DeadLetterDays int
	EventLogDays   int
	PrecreateDays  int
}

// DefaultRetention returns the default horizons.
func DefaultRetention() Retention {
	return Retention{
		DailyStatsDays: 400,
		DeadLetterDays: 30,
		EventLogDays:   90,
		PrecreateDays:  7,
	}
}

// SweepResult reports one retention sweep.
type SweepResult struct {
	DailyStatsPurged   int64    `json:"daily_stats_purged"`
	DeadLettersSwept   int64    `json:"dead_letters_swept"`
	PartitionsDropped  []string `json:"partitions_dropped"`
	DailyStatsCutoff   string   `json:"daily_stats_cutoff"`
	DeadLetterCutoff   string   `json:"dead_letter_cutoff"`
	EventLogRetainDays int      `json:"event_log_retain_days"`
}

// RecalcResult reports a full rolling recompute.
type RecalcResult struct {
	Pairs int `json:"pairs"`
	Stats int `json:"stats"`
}

// MaintenanceService runs retention, partition upkeep and recomputes.
type MaintenanceService struct {
	uow       storage.UnitOfWork
	retention Retention
	hybrid    []int64
	rules     reorder.Source
	now       func() time.Time
}

// NewMaintenanceService creates a MaintenanceService. Zero retention fields
// use the defaults. hybrid and rules decide which warehouses get combined
// statistics on a full recompute.
func NewMaintenanceService(uow storage.UnitOfWork, retention Retention, hybrid []int64, rules reorder.Source) *MaintenanceService {
	def := DefaultRetention()
	if retention.DailyStatsDays <= 0 {
		retention.DailyStatsDays = def.DailyStatsDays
	}
	if retention.DeadLetterDays <= 0 {
		retention.DeadLetterDays = def.DeadLetterDays
	}
	if retention.EventLogDays <= 0 {
		retention.EventLogDays = def.EventLogDays
	}
	if retention.PrecreateDays < 0 {
		retention.PrecreateDays = def.PrecreateDays
	}
	if rules == nil {
		rules = reorder.NewStaticSource(nil)
	}
	return &MaintenanceService{uow: uow, retention: retention, hybrid: hybrid, rules: rules, now: time.Now}
}

// WithClock replaces the wall clock (tests).
func (s *MaintenanceService) WithClock(now func() time.Time) *MaintenanceService {
	s.now = now
	return s
}

// RetentionSweep purges old daily statistics, sweeps terminal dead letters
// and drops expired event log partitions. Each step is independent; the
// first failure is returned after all steps ran.
func (s *MaintenanceService) RetentionSweep(ctx context.Context) (SweepResult, error) {
	stores := s.uow.Stores()
	today := domain.Day(s.now())
	dailyCutoff := today.AddDate(0, 0, -s.retention.DailyStatsDays)
	dlCutoff := s.now().UTC().AddDate(0, 0, -s.retention.DeadLetterDays)

	res := SweepResult{
		DailyStatsCutoff:   dailyCutoff.Format(domain.DateLayout),
		DeadLetterCutoff:   dlCutoff.Format(time.RFC3339),
		EventLogRetainDays: s.retention.EventLogDays,
	}
	var firstErr error
	fail := func(step string, err error) {
		logger.Error("Retention step failed", zap.String("step", step), zap.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	if n, err := stores.Daily.Purge(ctx, dailyCutoff); err != nil {
		fail("purge daily stats", err)
	} else {
		res.DailyStatsPurged = n
	}
	if n, err := stores.DeadLetter.SweepTerminal(ctx, dlCutoff); err != nil {
		fail("sweep dead letters", err)
	} else {
		res.DeadLettersSwept = n
	}
	if dropped, err := stores.EventLog.DropPartitionsOlderThan(ctx, s.retention.EventLogDays); err != nil {
		fail("drop event log partitions", err)
	} else {
		res.PartitionsDropped = dropped
	}

	logger.Info("Retention sweep completed",
		zap.Int64("daily_stats_purged", res.DailyStatsPurged),
		zap.Int64("dead_letters_swept", res.DeadLettersSwept),
		zap.Int("partitions_dropped", len(res.PartitionsDropped)),
	)
	if firstErr != nil {
		return res, apperrors.Wrap(firstErr, apperrors.CodeRetentionFailed, "retention sweep failed", http.StatusServiceUnavailable)
	}
	return res, nil
}

// PrecreatePartitions ensures event log partitions for today and the next
// PrecreateDays days. It returns the dates covered.
func (s *MaintenanceService) PrecreatePartitions(ctx context.Context) ([]time.Time, error) {
	log := s.uow.Stores().EventLog
	today := domain.Day(s.now())
	dates := make([]time.Time, 0, s.retention.PrecreateDays+1)
	for i := 0; i <= s.retention.PrecreateDays; i++ {
		d := today.AddDate(0, 0, i)
		if err := log.EnsurePartitionExists(ctx, d); err != nil {
			return dates, fmt.Errorf("ensure partition %s: %w", eventlog.PartitionName(d), err)
		}
		dates = append(dates, d)
	}
	logger.Debug("Event log partitions ensured", zap.Int("days", len(dates)))
	return dates, nil
}

// ListPartitions returns the event log partition inventory.
func (s *MaintenanceService) ListPartitions(ctx context.Context) ([]eventlog.Partition, error) {
	parts, err := s.uow.Stores().EventLog.ListPartitions(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodePartitionListFail, "failed to list partitions", http.StatusServiceUnavailable)
	}
	return parts, nil
}

// DropPartitions drops event log partitions older than days.
func (s *MaintenanceService) DropPartitions(ctx context.Context, days int) ([]string, error) {
	if days <= 0 {
		return nil, apperrors.ErrInvalidRequestFieldf("days")
	}
	return s.uow.Stores().EventLog.DropPartitionsOlderThan(ctx, days)
}

// FullRecalc recomputes rolling statistics of every pair with daily data,
// pageSize pairs per transaction.
func (s *MaintenanceService) FullRecalc(ctx context.Context, pageSize int) (RecalcResult, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	hybrid := append([]int64(nil), s.hybrid...)
	hybrid = append(hybrid, s.rules.Current().HybridWarehouses()...)
	calc := rolling.Calculator{Hybrid: rolling.NewHybridSet(hybrid...), Now: s.now}

	var (
		res   RecalcResult
		after domain.Pair
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var page []domain.Pair
		err := s.uow.Do(ctx, func(ctx context.Context, tx storage.Tx) error {
			stores := tx.Stores()
			var err error
			page, err = stores.Daily.Pairs(ctx, after, pageSize)
			if err != nil {
				return fmt.Errorf("list pairs after %s: %w", after, err)
			}
			n, err := calc.UpdateRollingStats(ctx, stores.Daily, stores.Rolling, page, domain.SourceFullRecalc)
			if err != nil {
				return err
			}
			res.Stats += n
			return nil
		})
		if err != nil {
			return res, err
		}
		res.Pairs += len(page)
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1]
	}
	logger.Info("Full rolling recompute completed",
		zap.Int("pairs", res.Pairs),
		zap.Int("stats", res.Stats),
	)
	return res, nil
}

// RollingStats returns one stored window of a pair.
func (s *MaintenanceService) RollingStats(ctx context.Context, productID, warehouseID int64, rt domain.RecordType, window int) (rolling.Stats, error) {
	if !rt.ValidStat() {
		return rolling.Stats{}, apperrors.ErrInvalidRequestFieldf("record_type")
	}
	if !domain.ValidWindow(window) {
		return rolling.Stats{}, apperrors.BadRequest(apperrors.CodeInvalidWindow, "window must be one of 30, 60, 90").
			WithParams(map[string]interface{}{"window": window})
	}
	st, err := rolling.GetStats(ctx, s.uow.Stores().Rolling, productID, warehouseID, rt, window)
	if err != nil {
		return rolling.Stats{}, err
	}
	if !st.Found {
		return rolling.Stats{}, apperrors.ErrRollingStatNotFoundf(productID, warehouseID, string(rt))
	}
	return st, nil
}
