package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/deadletter"
	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/storage"
)

// DefaultMaxRetries bounds automatic retries of one dead letter.
const DefaultMaxRetries = 3

// MaxActionIDs caps the ids of one dead letter action.
const MaxActionIDs = deadletter.MaxListLimit

// ActionResult reports a dead letter action. Ids not in a state the action
// applies to are listed in Skipped.
type ActionResult struct {
	Requested int      `json:"requested"`
	Affected  int      `json:"affected"`
	IDs       []string `json:"ids"`
	Skipped   []string `json:"skipped,omitempty"`
}

// DeadLetterService administers the dead letter store.
type DeadLetterService struct {
	uow        storage.UnitOfWork
	maxRetries int
	now        func() time.Time
}

// NewDeadLetterService creates a DeadLetterService. Non-positive maxRetries
// uses DefaultMaxRetries.
func NewDeadLetterService(uow storage.UnitOfWork, maxRetries int) *DeadLetterService {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &DeadLetterService{uow: uow, maxRetries: maxRetries, now: time.Now}
}

// WithClock replaces the wall clock (tests).
func (s *DeadLetterService) WithClock(now func() time.Time) *DeadLetterService {
	s.now = now
	return s
}

// Reprocess re-enqueues a fresh copy of each pending entry and marks it
// reprocessing, atomically.
func (s *DeadLetterService) Reprocess(ctx context.Context, ids []string) (ActionResult, error) {
	if err := checkIDs(ids); err != nil {
		return ActionResult{}, err
	}
	var moved []domain.DeadLetterEntry
	err := s.uow.Do(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		moved, err = s.requeue(ctx, tx.Stores(), ids)
		return err
	})
	if err != nil {
		return ActionResult{}, actionFailed("reprocess", err)
	}
	res := newActionResult(ids, moved)
	logger.Info("Dead letters reprocessed",
		zap.Int("requested", res.Requested),
		zap.Int("affected", res.Affected),
	)
	return res, nil
}

// Discard gives up on entries that are not yet terminal.
func (s *DeadLetterService) Discard(ctx context.Context, ids []string) (ActionResult, error) {
	return s.transition(ctx, "discard", ids, domain.DeadLetterDiscarded)
}

// MarkResolved closes entries fixed out of band.
func (s *DeadLetterService) MarkResolved(ctx context.Context, ids []string) (ActionResult, error) {
	return s.transition(ctx, "resolve", ids, domain.DeadLetterResolved)
}

// AutoRetry re-enqueues up to limit pending entries of auto-retryable kinds
// that have retries left.
func (s *DeadLetterService) AutoRetry(ctx context.Context, limit int) (ActionResult, error) {
	var kinds []apperrors.Kind
	for _, k := range apperrors.AllKinds {
		if k.AutoRetryable() {
			kinds = append(kinds, k)
		}
	}

	var (
		candidates []string
		moved      []domain.DeadLetterEntry
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx storage.Tx) error {
		stores := tx.Stores()
		entries, err := stores.DeadLetter.PendingRetryable(ctx, kinds, s.maxRetries, retryLimit(limit))
		if err != nil {
			return fmt.Errorf("list retryable dead letters: %w", err)
		}
		candidates = make([]string, 0, len(entries))
		for _, e := range entries {
			candidates = append(candidates, e.ID)
		}
		if len(candidates) == 0 {
			return nil
		}
		moved, err = s.requeue(ctx, stores, candidates)
		return err
	})
	if err != nil {
		return ActionResult{}, actionFailed("auto retry", err)
	}
	res := newActionResult(candidates, moved)
	if res.Affected > 0 {
		logger.Info("Dead letters retried automatically",
			zap.Int("affected", res.Affected),
			zap.Int("max_retries", s.maxRetries),
		)
	}
	return res, nil
}

// Get returns one entry.
func (s *DeadLetterService) Get(ctx context.Context, id string) (domain.DeadLetterEntry, error) {
	e, err := s.uow.Stores().DeadLetter.Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return domain.DeadLetterEntry{}, apperrors.Wrap(err, apperrors.CodeDeadLetterNotFound, "dead letter entry not found", http.StatusNotFound).
			WithParams(map[string]interface{}{"id": id})
	}
	return e, err
}

// List returns entries matching filter.
func (s *DeadLetterService) List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, apperrors.ErrInvalidRequestFieldf("kind")
	}
	if filter.State != "" && !filter.State.Valid() {
		return nil, apperrors.ErrInvalidRequestFieldf("state")
	}
	if filter.Offset < 0 {
		return nil, apperrors.ErrInvalidRequestFieldf("offset")
	}
	return s.uow.Stores().DeadLetter.List(ctx, filter)
}

// Stats counts entries by kind and state.
func (s *DeadLetterService) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	return s.uow.Stores().DeadLetter.Stats(ctx)
}

func (s *DeadLetterService) requeue(ctx context.Context, stores storage.Stores, ids []string) ([]domain.DeadLetterEntry, error) {
	moved, err := stores.DeadLetter.Transition(ctx, ids,
		[]domain.DeadLetterState{domain.DeadLetterPending}, domain.DeadLetterReprocessing, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark dead letters reprocessing: %w", err)
	}
	if len(moved) == 0 {
		return nil, nil
	}
	evs := make([]domain.RawEvent, 0, len(moved))
	for _, e := range moved {
		evs = append(evs, e.Requeue())
	}
	if _, err := stores.Queue.EnqueueBatch(ctx, evs); err != nil {
		return nil, fmt.Errorf("re-enqueue dead letters: %w", err)
	}
	return moved, nil
}

func (s *DeadLetterService) transition(ctx context.Context, action string, ids []string, to domain.DeadLetterState) (ActionResult, error) {
	if err := checkIDs(ids); err != nil {
		return ActionResult{}, err
	}
	moved, err := s.uow.Stores().DeadLetter.Transition(ctx, ids,
		[]domain.DeadLetterState{domain.DeadLetterPending, domain.DeadLetterReprocessing}, to, s.now())
	if err != nil {
		return ActionResult{}, actionFailed(action, err)
	}
	res := newActionResult(ids, moved)
	logger.Info("Dead letters updated",
		zap.String("action", action),
		zap.String("state", string(to)),
		zap.Int("requested", res.Requested),
		zap.Int("affected", res.Affected),
	)
	return res, nil
}

func retryLimit(limit int) int {
	if limit <= 0 {
		return deadletter.DefaultListLimit
	}
	return min(limit, deadletter.MaxListLimit)
}

func checkIDs(ids []string) error {
	if len(ids) == 0 {
		return apperrors.ErrInvalidRequestFieldf("ids")
	}
	if len(ids) > MaxActionIDs {
		return apperrors.ErrInvalidRequestFieldf("ids").
			WithParams(map[string]interface{}{"field": "ids", "max": MaxActionIDs})
	}
	return nil
}

func actionFailed(action string, err error) error {
	return apperrors.Wrap(err, apperrors.CodeDeadLetterAction, "dead letter "+action+" failed", http.StatusServiceUnavailable)
}

func newActionResult(requested []string, moved []domain.DeadLetterEntry) ActionResult {
	res := ActionResult{Requested: len(requested), Affected: len(moved), IDs: make([]string, 0, len(moved))}
	done := make(map[string]struct{}, len(moved))
	for _, e := range moved {
		res.IDs = append(res.IDs, e.ID)
		done[e.ID] = struct{}{}
	}
	for _, id := range requested {
		if _, ok := done[id]; !ok {
			res.Skipped = append(res.Skipped, id)
		}
	}
	return res
}
