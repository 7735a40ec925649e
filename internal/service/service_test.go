package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockpulse.io/stockpulse/internal/backpressure"
	"stockpulse.io/stockpulse/internal/daily"
	"stockpulse.io/stockpulse/internal/deadletter"
	"stockpulse.io/stockpulse/internal/domain"
	"stockpulse.io/stockpulse/internal/eventlog"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/storage"
)

var now = time.Date(2024, 6, 30, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func sale(product int64) domain.RawEvent {
	return domain.RawEvent{
		ProductID: product, WarehouseID: 1, Quantity: 2,
		EventDate: domain.Day(now), RecordType: domain.RecordSale,
	}
}

func seedDeadLetter(t *testing.T, m *storage.Memory, kind apperrors.Kind, retries int) string {
	t.Helper()
	ev := sale(7)
	ev.RetryCount = retries
	e, err := deadletter.SendToDeadLetter(context.Background(), m.DeadLetter, ev, "boom", kind, "batch-1", now)
	if err != nil {
		t.Fatalf("SendToDeadLetter() error = %v", err)
	}
	return e.ID
}

func TestEventService_EnqueueValidatesWholeBatch(t *testing.T) {
	t.Parallel()

	m := storage.NewMemory(clock)
	svc := NewEventService(m.Queue, backpressure.NewMonitor(m.Queue), nil)

	bad := sale(1)
	bad.RecordType = "return"
	_, err := svc.Enqueue(context.Background(), []domain.RawEvent{sale(1), bad})
	appErr, ok := apperrors.IsAppError(err)
	if !ok || appErr.Code != apperrors.CodeInvalidEvent {
		t.Fatalf("Enqueue() error = %v, want %s", err, apperrors.CodeInvalidEvent)
	}
	if appErr.Params["index"] != 1 {
		t.Fatalf("Enqueue() index param = %v, want 1", appErr.Params["index"])
	}
	if m.Queue.Len() != 0 {
		t.Fatalf("queue length = %d, want 0", m.Queue.Len())
	}

	n, err := svc.Enqueue(context.Background(), []domain.RawEvent{sale(1), sale(2)})
	if err != nil || n != 2 {
		t.Fatalf("Enqueue() = %d, %v; want 2, nil", n, err)
	}
	st, err := svc.QueueStats(context.Background())
	if err != nil || st.Count != 2 {
		t.Fatalf("QueueStats() = %+v, %v", st, err)
	}
}

func TestDeadLetterService_ReprocessRequeuesPendingOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(clock)
	pending := seedDeadLetter(t, m, apperrors.KindReferential, 0)
	done := seedDeadLetter(t, m, apperrors.KindReferential, 0)
	svc := NewDeadLetterService(m, 3).WithClock(clock)
	if _, err := svc.MarkResolved(ctx, []string{done}); err != nil {
		t.Fatalf("MarkResolved() error = %v", err)
	}

	res, err := svc.Reprocess(ctx, []string{pending, done, "missing"})
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if res.Requested != 3 || res.Affected != 1 || len(res.Skipped) != 2 {
		t.Fatalf("Reprocess() = %+v", res)
	}
	if m.Queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", m.Queue.Len())
	}
	evs, err := m.Queue.ConsumeBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ConsumeBatch() error = %v", err)
	}
	if evs[0].DeadLetterID != pending || evs[0].RetryCount != 1 {
		t.Fatalf("requeued event = %+v", evs[0])
	}
	e, err := svc.Get(ctx, pending)
	if err != nil || e.State != domain.DeadLetterReprocessing {
		t.Fatalf("Get() = %+v, %v", e, err)
	}
}

func TestDeadLetterService_DiscardAndNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(clock)
	id := seedDeadLetter(t, m, apperrors.KindValidation, 0)
	svc := NewDeadLetterService(m, 0).WithClock(clock)

	res, err := svc.Discard(ctx, []string{id})
	if err != nil || res.Affected != 1 {
		t.Fatalf("Discard() = %+v, %v", res, err)
	}
	res, err = svc.MarkResolved(ctx, []string{id})
	if err != nil || res.Affected != 0 {
		t.Fatalf("MarkResolved() on discarded = %+v, %v", res, err)
	}

	_, err = svc.Get(ctx, "nope")
	appErr, ok := apperrors.IsAppError(err)
	if !ok || appErr.Code != apperrors.CodeDeadLetterNotFound {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := svc.Discard(ctx, nil); err == nil {
		t.Fatal("Discard(nil) error = nil, want invalid field")
	}
}

func TestDeadLetterService_AutoRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(clock)
	transient := seedDeadLetter(t, m, apperrors.KindTransient, 0)
	seedDeadLetter(t, m, apperrors.KindUnclassified, 3)
	seedDeadLetter(t, m, apperrors.KindReferential, 0)
	svc := NewDeadLetterService(m, 3).WithClock(clock)

	res, err := svc.AutoRetry(ctx, 0)
	if err != nil {
		t.Fatalf("AutoRetry() error = %v", err)
	}
	if res.Affected != 1 || res.IDs[0] != transient {
		t.Fatalf("AutoRetry() = %+v, want only %s", res, transient)
	}
	if m.Queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", m.Queue.Len())
	}
}

func TestDeadLetterService_ReprocessRollsBackOnEnqueueFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(clock)
	id := seedDeadLetter(t, m, apperrors.KindReferential, 0)
	svc := NewDeadLetterService(brokenQueueUoW{m}, 3).WithClock(clock)

	if _, err := svc.Reprocess(ctx, []string{id}); err == nil {
		t.Fatal("Reprocess() error = nil, want enqueue failure")
	}
	e, err := m.DeadLetter.Get(ctx, id)
	if err != nil || e.State != domain.DeadLetterPending {
		t.Fatalf("entry after failed reprocess = %+v, %v", e, err)
	}
}

func TestMaintenanceService_RetentionSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(clock)
	old := domain.Day(now).AddDate(0, 0, -120)
	recent := domain.Day(now).AddDate(0, 0, -5)

	for _, d := range []time.Time{old, recent} {
		ev := sale(1)
		ev.EventDate = d
		if _, err := daily.UpsertDaily(ctx, m.Daily, []domain.RawEvent{ev}, now); err != nil {
			t.Fatalf("UpsertDaily() error = %v", err)
		}
		if _, err := m.EventLog.LogEvents(ctx, []domain.RawEvent{ev}, eventlog.Batch{ID: "b", ProcessedAt: now}); err != nil {
			t.Fatalf("LogEvents() error = %v", err)
		}
	}

	svc := NewMaintenanceService(m, Retention{DailyStatsDays: 100, EventLogDays: 90}, nil, nil).WithClock(clock)
	res, err := svc.RetentionSweep(ctx)
	if err != nil {
		t.Fatalf("RetentionSweep() error = %v", err)
	}
	if res.DailyStatsPurged != 1 {
		t.Fatalf("DailyStatsPurged = %d, want 1", res.DailyStatsPurged)
	}
	if len(res.PartitionsDropped) != 1 || res.PartitionsDropped[0] != eventlog.PartitionName(old) {
		t.Fatalf("PartitionsDropped = %v", res.PartitionsDropped)
	}

	res, err = svc.RetentionSweep(ctx)
	if err != nil || len(res.PartitionsDropped) != 0 {
		t.Fatalf("second RetentionSweep() = %+v, %v", res, err)
	}
}

func TestMaintenanceService_PrecreateAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(clock)
	svc := NewMaintenanceService(m, Retention{PrecreateDays: 3}, nil, nil).WithClock(clock)

	dates, err := svc.PrecreatePartitions(ctx)
	if err != nil || len(dates) != 4 {
		t.Fatalf("PrecreatePartitions() = %v, %v", dates, err)
	}
	parts, err := svc.ListPartitions(ctx)
	if err != nil || len(parts) != 4 {
		t.Fatalf("ListPartitions() = %v, %v", parts, err)
	}
	if !parts[0].Date.Equal(domain.Day(now)) {
		t.Fatalf("first partition date = %s", parts[0].Date)
	}
}

func TestMaintenanceService_FullRecalcAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(clock)
	var evs []domain.RawEvent
	for p := int64(1); p <= 5; p++ {
		ev := sale(p)
		ev.Quantity = 30
		evs = append(evs, ev)
	}
	if _, err := daily.UpsertDaily(ctx, m.Daily, evs, now); err != nil {
		t.Fatalf("UpsertDaily() error = %v", err)
	}

	svc := NewMaintenanceService(m, Retention{}, []int64{1}, nil).WithClock(clock)
	res, err := svc.FullRecalc(ctx, 2)
	if err != nil {
		t.Fatalf("FullRecalc() error = %v", err)
	}
	if res.Pairs != 5 || res.Stats != 15 {
		t.Fatalf("FullRecalc() = %+v, want 5 pairs and 15 stats", res)
	}

	st, err := svc.RollingStats(ctx, 3, 1, domain.RecordSale, 30)
	if err != nil || st.Mean != 1 {
		t.Fatalf("RollingStats() = %+v, %v", st, err)
	}
	_, err = svc.RollingStats(ctx, 3, 1, domain.RecordSale, 45)
	if appErr, ok := apperrors.IsAppError(err); !ok || appErr.Code != apperrors.CodeInvalidWindow {
		t.Fatalf("RollingStats(window=45) error = %v", err)
	}
	_, err = svc.RollingStats(ctx, 99, 1, domain.RecordSale, 30)
	if appErr, ok := apperrors.IsAppError(err); !ok || appErr.Code != apperrors.CodeRollingStatNotFound {
		t.Fatalf("RollingStats(unknown) error = %v", err)
	}
}

type brokenQueueUoW struct {
	*storage.Memory
}

func (u brokenQueueUoW) Do(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return u.Memory.Do(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, brokenQueueTx{tx})
	})
}

type brokenQueueTx struct {
	storage.Tx
}

func (t brokenQueueTx) Stores() storage.Stores {
	s := t.Tx.Stores()
	s.Queue = failingQueue{}
	return s
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, domain.RawEvent) error {
	return errors.New("queue unavailable")
}

func (failingQueue) EnqueueBatch(context.Context, []domain.RawEvent) (int, error) {
	return 0, errors.New("queue unavailable")
}

func (failingQueue) ConsumeBatch(context.Context, int) ([]domain.RawEvent, error) {
	return nil, errors.New("queue unavailable")
}

func (failingQueue) Stats(context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{}, errors.New("queue unavailable")
}
