// Package processor drains the intake queue into the demand statistics.
//
// A run is a sequence of batches. Each batch consumes events, splits them
// into valid and dead-lettered, writes the event log, daily totals and
// rolling statistics, and commits as one unit of work. Orderpoints of the
// touched pairs are refreshed after the commit; pairs the rule engine could
// not serve are parked in a backlog that the next run drains first.
package processor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/backpressure"
	"stockpulse.io/stockpulse/internal/catalog"
	"stockpulse.io/stockpulse/internal/daily"
	"stockpulse.io/stockpulse/internal/deadletter"
	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/eventlog"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/pkg/metrics"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/rolling"
	"stockpulse.io/stockpulse/internal/storage"
)

// Defaults applied to zero Config fields.
const (
	DefaultBatchSize    = 500
	DefaultTimeBudget   = 50 * time.Second
	DefaultBacklogLimit = 1000
	DefaultMaxRetries   = 3

	// MaxBatchSize caps the widened batch size under backpressure.
	MaxBatchSize = 5000
)

// Stop reasons of a run.
const (
	StopEmpty     = "queue_empty"
	StopBudget    = "time_budget"
	StopTransient = "transient_error"
	StopCancelled = "cancelled"
)

// Config tunes a processor.
type Config struct {
	BatchSize  int
	TimeBudget time.Duration
	// BacklogLimit caps the pairs taken from the refresh backlog per run.
	BacklogLimit int
	// HybridWarehouses get combined rolling statistics in addition to the
	// ones flagged hybrid by the rule set.
	HybridWarehouses []int64
	// MaxRetries is the number of transient batch failures an event may
	// take before it is dead-lettered.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.BacklogLimit <= 0 {
		c.BacklogLimit = DefaultBacklogLimit
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Processor runs time-boxed passes over the intake queue. It is safe to run
// several processors, in one process or many, against the same queue.
type Processor struct {
	uow       storage.UnitOfWork
	rules     reorder.Source
	refresher *reorder.Refresher
	cfg       Config
	now       func() time.Time

	monitor *backpressure.Monitor
	maxAge  time.Duration
	maxSize int64
}

// New creates a processor. A nil rules source uses the default rule set; a
// nil refresher uses the formula engine inline.
func New(uow storage.UnitOfWork, rules reorder.Source, refresher *reorder.Refresher, cfg Config) *Processor {
	if rules == nil {
		rules = reorder.NewStaticSource(nil)
	}
	if refresher == nil {
		refresher = &reorder.Refresher{Engine: reorder.NewFormulaEngine()}
	}
	return &Processor{
		uow:       uow,
		rules:     rules,
		refresher: refresher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// WithClock replaces the wall clock (tests).
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// WithBackpressure makes each run consult m first. While backpressure is
// flagged the run consumes batches of twice the configured size, up to
// MaxBatchSize.
func (p *Processor) WithBackpressure(m *backpressure.Monitor, maxAge time.Duration, maxSize int64) *Processor {
	p.monitor, p.maxAge, p.maxSize = m, maxAge, maxSize
	return p
}

// RunResult summarizes one run. Consumed is always the sum of Aggregated,
// DeadLettered, Requeued and Dropped.
type RunResult struct {
	Batches      int `json:"batches"`
	Consumed     int `json:"consumed"`
	Aggregated   int `json:"aggregated"`
	DeadLettered int `json:"dead_lettered"`
	// Requeued events went back to the queue after a transient failure.
	Requeued int `json:"requeued"`
	// Dropped events were copies of dead letters closed by an operator.
	Dropped int `json:"dropped"`
	// FailedBatches were deferred whole to the dead letter store.
	FailedBatches int           `json:"failed_batches"`
	Refreshed     int           `json:"orderpoints_refreshed"`
	Deferred      int           `json:"orderpoints_deferred"`
	Backpressure  bool          `json:"backpressure"`
	StopReason    string        `json:"stop_reason"`
	Elapsed       time.Duration `json:"elapsed"`
}

// BatchResult summarizes one committed batch.
type BatchResult struct {
	ID           string
	Consumed     int
	Aggregated   int
	DeadLettered int
	Requeued     int
	Dropped      int
	// Failed reports the whole batch went to the dead letter store.
	Failed bool
	// Pairs are the pairs whose statistics changed.
	Pairs []domain.Pair
	// Locations maps the batch warehouses to their stock location.
	Locations map[int64]int64
}

// Run drains the queue until it is empty or the time budget is spent. The
// budget is checked between batches only, so a started batch always
// commits or rolls back as a whole. A transient storage failure ends the
// run with the error; see ProcessBatch for what happens to the batch.
func (p *Processor) Run(ctx context.Context) (RunResult, error) {
	start := p.now()
	deadline := start.Add(p.cfg.TimeBudget)
	rules := p.rules.Current()
	hybrid := p.hybridSet(rules)

	var res RunResult
	finish := func(reason string, err error) (RunResult, error) {
		res.StopReason = reason
		res.Elapsed = p.now().Sub(start)
		logger.Info("Processor run finished",
			zap.String("stop_reason", reason),
			zap.Int("batches", res.Batches),
			zap.Int("consumed", res.Consumed),
			zap.Int("aggregated", res.Aggregated),
			zap.Int("dead_lettered", res.DeadLettered),
			zap.Int("requeued", res.Requeued),
			zap.Int("dropped", res.Dropped),
			zap.Int("failed_batches", res.FailedBatches),
			zap.Int("orderpoints_refreshed", res.Refreshed),
			zap.Int("orderpoints_deferred", res.Deferred),
			zap.Duration("elapsed", res.Elapsed),
		)
		return res, err
	}

	batchSize := p.cfg.BatchSize
	if p.underPressure(ctx) {
		res.Backpressure = true
		batchSize = min(batchSize*2, max(MaxBatchSize, p.cfg.BatchSize))
	}

	refreshed, deferred := p.drainBacklog(ctx, rules, hybrid)
	res.Refreshed += refreshed
	res.Deferred += deferred

	for {
		if ctx.Err() != nil {
			return finish(StopCancelled, nil)
		}
		if res.Batches > 0 && !p.now().Before(deadline) {
			return finish(StopBudget, nil)
		}

		br, err := p.processBatch(ctx, hybrid, batchSize)
		res.Consumed += br.Consumed
		res.Aggregated += br.Aggregated
		res.DeadLettered += br.DeadLettered
		res.Requeued += br.Requeued
		res.Dropped += br.Dropped
		if err != nil {
			return finish(StopTransient, err)
		}
		if br.Consumed == 0 {
			return finish(StopEmpty, nil)
		}
		res.Batches++
		if br.Failed {
			res.FailedBatches++
		}

		refreshed, deferred := p.refresh(ctx, rules, hybrid, br.Pairs, br.Locations)
		res.Refreshed += refreshed
		res.Deferred += deferred
	}
}

// ProcessBatch consumes and commits one batch. It returns an error when the
// batch hit a transient storage failure. Its events are then either
// requeued with retry_count+1 or, once MaxRetries failures are reached,
// dead-lettered as transient. If even that cannot be written the batch is
// rolled back and its events are back in the queue unchanged.
func (p *Processor) ProcessBatch(ctx context.Context, hybrid rolling.HybridSet) (BatchResult, error) {
	return p.processBatch(ctx, hybrid, p.cfg.BatchSize)
}

func (p *Processor) underPressure(ctx context.Context) bool {
	if p.monitor == nil {
		return false
	}
	res, err := p.monitor.Check(ctx, p.maxAge, p.maxSize)
	if err != nil {
		logger.Warn("Backpressure check failed", zap.Error(err))
		return false
	}
	if res.HasBackpressure {
		logger.Warn("Processor run under backpressure",
			zap.String("reason", res.Reason),
			zap.Int64("depth", res.Stats.Count),
		)
	}
	return res.HasBackpressure
}

func (p *Processor) processBatch(ctx context.Context, hybrid rolling.HybridSet, batchSize int) (BatchResult, error) {
	batchID := newBatchID()
	started := p.now()
	br := BatchResult{ID: batchID}

	// The commit of a started batch is not interrupted by cancellation.
	txCtx := context.WithoutCancel(ctx)
	var transient error
	err := p.uow.Do(txCtx, func(ctx context.Context, tx storage.Tx) error {
		br = BatchResult{ID: batchID}
		transient = nil
		s := tx.Stores()
		evs, err := s.Queue.ConsumeBatch(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("consume batch: %w", err)
		}
		if len(evs) == 0 {
			return nil
		}
		br.Consumed = len(evs)

		spErr := tx.Savepoint(ctx, func(ctx context.Context) error {
			return p.apply(ctx, s, hybrid, batchID, started, evs, &br)
		})
		if spErr == nil {
			return nil
		}
		if apperrors.IsTransient(spErr) {
			if err := p.retryBatch(ctx, s, batchID, evs, spErr, &br); err != nil {
				return err
			}
			transient = spErr
			return nil
		}
		return p.deferBatch(ctx, s.DeadLetter, batchID, evs, spErr, &br)
	})

	elapsed := p.now().Sub(started)
	if err != nil {
		metrics.BatchDuration.WithLabelValues("rolled_back").Observe(elapsed.Seconds())
		logger.Warn("Batch rolled back",
			zap.String("batch_id", batchID),
			zap.Int("event_count", br.Consumed),
			zap.String("error_kind", string(apperrors.KindOf(err))),
			zap.Error(err),
		)
		return BatchResult{ID: batchID}, err
	}
	if transient != nil {
		metrics.BatchDuration.WithLabelValues("requeued").Observe(elapsed.Seconds())
		metrics.EventsProcessed.WithLabelValues(metrics.OutcomeRequeued).Add(float64(br.Requeued))
		metrics.EventsProcessed.WithLabelValues(metrics.OutcomeDeadLettered).Add(float64(br.DeadLettered))
		metrics.EventsProcessed.WithLabelValues(metrics.OutcomeDropped).Add(float64(br.Dropped))
		return br, transient
	}
	if br.Consumed == 0 {
		return br, nil
	}

	status := "ok"
	if br.Failed {
		status = "dead_lettered"
	}
	metrics.BatchDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	metrics.EventsProcessed.WithLabelValues(metrics.OutcomeAggregated).Add(float64(br.Aggregated))
	metrics.EventsProcessed.WithLabelValues(metrics.OutcomeDeadLettered).Add(float64(br.DeadLettered))
	metrics.EventsProcessed.WithLabelValues(metrics.OutcomeDropped).Add(float64(br.Dropped))
	logger.Info("Batch committed",
		zap.String("batch_id", batchID),
		zap.Int("consumed", br.Consumed),
		zap.Int("valid", br.Aggregated),
		zap.Int("dead_lettered", br.DeadLettered),
		zap.Int("dropped", br.Dropped),
		zap.Int("pairs", len(br.Pairs)),
		zap.Duration("elapsed", elapsed),
	)
	return br, nil
}

// apply writes the side effects of a batch. Any error undoes all of them.
func (p *Processor) apply(ctx context.Context, s storage.Stores, hybrid rolling.HybridSet, batchID string, started time.Time, evs []domain.RawEvent, br *BatchResult) error {
	evs, dropped, err := dropClosed(ctx, s.DeadLetter, evs)
	if err != nil {
		return err
	}
	valid, rejected := splitValid(evs)

	snap, err := catalog.LookupEvents(ctx, s.Catalog, valid)
	if err != nil {
		return fmt.Errorf("look up catalog: %w", err)
	}
	kept := make([]domain.RawEvent, 0, len(valid))
	for _, ev := range valid {
		if err := snap.Check(ev); err != nil {
			rejected = append(rejected, rejection{ev: ev, err: err})
			continue
		}
		kept = append(kept, ev)
	}

	now := p.now()
	if len(kept) > 0 {
		// Event log first: its partition DDL must not wait on this
		// transaction's own locks.
		_, err := s.EventLog.LogEvents(ctx, kept, eventlog.Batch{
			ID:               batchID,
			ProcessedAt:      now,
			ProcessingTimeMS: now.Sub(started).Milliseconds(),
		})
		if err != nil {
			return fmt.Errorf("append event log: %w", err)
		}
		if _, err := daily.UpsertDaily(ctx, s.Daily, kept, now); err != nil {
			return fmt.Errorf("upsert daily stats: %w", err)
		}
		pairs := touchedPairs(kept)
		calc := rolling.Calculator{Hybrid: hybrid, Now: p.now}
		if _, err := calc.UpdateRollingStats(ctx, s.Daily, s.Rolling, pairs, domain.SourceQueue); err != nil {
			return fmt.Errorf("update rolling stats: %w", err)
		}
		if ids := lineage(kept); len(ids) > 0 {
			_, err := s.DeadLetter.Transition(ctx, ids,
				[]domain.DeadLetterState{domain.DeadLetterReprocessing, domain.DeadLetterPending},
				domain.DeadLetterResolved, now)
			if err != nil {
				return fmt.Errorf("resolve reprocessed dead letters: %w", err)
			}
		}
		br.Pairs = pairs
		br.Locations = snap.Warehouses
	}

	if len(rejected) > 0 {
		entries := make([]domain.DeadLetterEntry, 0, len(rejected))
		for _, r := range rejected {
			entries = append(entries, deadletter.NewEntry(r.ev, apperrors.KindOf(r.err), r.err.Error(), batchID, now))
		}
		if _, err := s.DeadLetter.Send(ctx, entries); err != nil {
			return fmt.Errorf("send dead letters: %w", err)
		}
		for _, e := range entries {
			metrics.DeadLetters.WithLabelValues(string(e.ErrorKind)).Inc()
		}
	}

	br.Aggregated = len(kept)
	br.DeadLettered = len(rejected)
	br.Dropped = dropped
	return nil
}

// dropClosed removes re-enqueued copies whose dead letter entry was resolved
// or discarded after the copy was queued. The entries stay locked until the
// batch commits.
func dropClosed(ctx context.Context, dl deadletter.Store, evs []domain.RawEvent) ([]domain.RawEvent, int, error) {
	ids := lineage(evs)
	if len(ids) == 0 {
		return evs, 0, nil
	}
	slices.Sort(ids)
	states, err := dl.LockStates(ctx, slices.Compact(ids))
	if err != nil {
		return nil, 0, fmt.Errorf("lock dead letter lineage: %w", err)
	}
	kept := make([]domain.RawEvent, 0, len(evs))
	for _, ev := range evs {
		if ev.DeadLetterID != "" && states[ev.DeadLetterID].Terminal() {
			logger.Info("Dropping copy of closed dead letter",
				zap.String("dead_letter_id", ev.DeadLetterID),
				zap.String("state", string(states[ev.DeadLetterID])),
			)
			continue
		}
		kept = append(kept, ev)
	}
	return kept, len(evs) - len(kept), nil
}

// retryBatch handles a batch whose writes were rolled back to the savepoint
// after a transient failure. Each event counts the failure in retry_count;
// events below MaxRetries go back to the queue, the rest are dead-lettered
// as transient.
func (p *Processor) retryBatch(ctx context.Context, s storage.Stores, batchID string, evs []domain.RawEvent, cause error, br *BatchResult) error {
	now := p.now()
	var (
		again   []domain.RawEvent
		entries []domain.DeadLetterEntry
	)
	for _, ev := range evs {
		ev.RetryCount++
		if ev.RetryCount < p.cfg.MaxRetries {
			ev.ID = 0
			again = append(again, ev)
			continue
		}
		entries = append(entries, deadletter.NewEntry(ev, apperrors.KindTransient, cause.Error(), batchID, now))
	}

	if len(again) > 0 {
		if _, err := s.Queue.EnqueueBatch(ctx, again); err != nil {
			return errors.Join(cause, fmt.Errorf("requeue batch: %w", err))
		}
	}
	sent := 0
	if len(entries) > 0 {
		out, err := s.DeadLetter.Send(ctx, entries)
		if err != nil {
			return errors.Join(cause, fmt.Errorf("dead-letter exhausted events: %w", err))
		}
		sent = len(out)
		metrics.DeadLetters.WithLabelValues(string(apperrors.KindTransient)).Add(float64(sent))
	}

	logger.Warn("Batch hit a transient failure",
		zap.String("batch_id", batchID),
		zap.Int("event_count", len(evs)),
		zap.Int("requeued", len(again)),
		zap.Int("dead_lettered", sent),
		zap.Int("max_retries", p.cfg.MaxRetries),
		zap.Error(cause),
	)
	*br = BatchResult{
		ID:           batchID,
		Consumed:     len(evs),
		Requeued:     len(again),
		DeadLettered: sent,
		Dropped:      len(entries) - sent,
	}
	return nil
}

// deferBatch routes every event of a failed batch to the dead letter store.
func (p *Processor) deferBatch(ctx context.Context, dl deadletter.Store, batchID string, evs []domain.RawEvent, cause error, br *BatchResult) error {
	logger.Error("Batch failed, deferring to dead letter",
		zap.String("batch_id", batchID),
		zap.Int("event_count", len(evs)),
		zap.String("first_source_ref", evs[0].SourceRef),
		zap.String("last_source_ref", evs[len(evs)-1].SourceRef),
		zap.Error(cause),
	)
	now := p.now()
	entries := make([]domain.DeadLetterEntry, 0, len(evs))
	for _, ev := range evs {
		entries = append(entries, deadletter.NewEntry(ev, apperrors.KindUnclassified, cause.Error(), batchID, now))
	}
	out, err := dl.Send(ctx, entries)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("defer batch to dead letter: %w", err))
	}
	metrics.DeadLetters.WithLabelValues(string(apperrors.KindUnclassified)).Add(float64(len(out)))

	*br = BatchResult{ID: batchID, Consumed: len(evs), DeadLettered: len(out), Dropped: len(evs) - len(out), Failed: true}
	return nil
}

func (p *Processor) hybridSet(rules *reorder.RuleSet) rolling.HybridSet {
	ids := append([]int64(nil), p.cfg.HybridWarehouses...)
	if rules != nil {
		ids = append(ids, rules.HybridWarehouses()...)
	}
	return rolling.NewHybridSet(ids...)
}

type rejection struct {
	ev  domain.RawEvent
	err error
}

func splitValid(evs []domain.RawEvent) ([]domain.RawEvent, []rejection) {
	valid := make([]domain.RawEvent, 0, len(evs))
	var rejected []rejection
	for _, ev := range evs {
		if err := domain.ValidateEvent(ev); err != nil {
			rejected = append(rejected, rejection{ev: ev, err: err})
			continue
		}
		valid = append(valid, ev)
	}
	return valid, rejected
}

func touchedPairs(evs []domain.RawEvent) []domain.Pair {
	seen := make(map[domain.Pair]struct{}, len(evs))
	out := make([]domain.Pair, 0, len(evs))
	for _, ev := range evs {
		p := ev.Pair()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func lineage(evs []domain.RawEvent) []string {
	var ids []string
	for _, ev := range evs {
		if ev.DeadLetterID != "" {
			ids = append(ids, ev.DeadLetterID)
		}
	}
	return ids
}

func newBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
