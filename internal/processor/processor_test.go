package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/backpressure"
	"stockpulse.io/stockpulse/internal/daily"
	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/storage"
)

var now = time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func newMemory(t *testing.T) *storage.Memory {
	t.Helper()
	m := storage.NewMemory(func() time.Time { return now })
	m.Catalog.AddProducts(1, 2, 3).AddWarehouse(10, 100).AddWarehouse(20, 200)
	return m
}

func event(product, warehouse int64, qty float64, rt domain.RecordType) domain.RawEvent {
	return domain.RawEvent{
		ProductID: product, WarehouseID: warehouse, Quantity: qty,
		EventDate: domain.Day(now), RecordType: rt, SourceRef: "pos.order,1",
	}
}

func enqueue(t *testing.T, m *storage.Memory, evs ...domain.RawEvent) {
	t.Helper()
	_, err := m.Queue.EnqueueBatch(context.Background(), evs)
	require.NoError(t, err)
}

func dailyTotal(m *storage.Memory, product, warehouse int64, rt domain.RecordType) float64 {
	st, _ := m.Daily.Get(domain.DailyKey{ProductID: product, WarehouseID: warehouse, Date: domain.Day(now), RecordType: rt})
	return st.QuantityTotal
}

func newProcessor(uow storage.UnitOfWork, cfg Config, refresher *reorder.Refresher) *Processor {
	return New(uow, nil, refresher, cfg).WithClock(func() time.Time { return now })
}

func TestRun_ExactlyOnce(t *testing.T) {
	t.Parallel()

	m := newMemory(t)
	enqueue(t, m,
		event(1, 10, 3, domain.RecordSale),
		event(99, 10, 4, domain.RecordSale),
		event(2, 20, 2, domain.RecordTransfer),
		event(1, 77, 1, domain.RecordSale),
		event(1, 10, 5, domain.RecordSale),
		domain.RawEvent{ProductID: 1, WarehouseID: 10, Quantity: 1, RecordType: "return"},
	)

	res, err := newProcessor(m, Config{BatchSize: 2}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopEmpty, res.StopReason)
	require.Equal(t, 3, res.Batches)
	require.Equal(t, 6, res.Consumed)
	require.Equal(t, 3, res.Aggregated)
	require.Equal(t, 3, res.DeadLettered)
	require.Equal(t, res.Consumed, res.Aggregated+res.DeadLettered)

	require.Zero(t, m.Queue.Len())
	require.Equal(t, 3, m.DeadLetter.Len())
	require.Equal(t, 8.0, dailyTotal(m, 1, 10, domain.RecordSale))
	require.Equal(t, 2.0, dailyTotal(m, 2, 20, domain.RecordTransfer))
	require.Len(t, m.EventLog.Records(domain.Day(now)), 3)

	stats, err := m.DeadLetter.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, stats[apperrors.KindReferential][domain.DeadLetterPending])
	require.EqualValues(t, 1, stats[apperrors.KindValidation][domain.DeadLetterPending])
}

func TestRun_DeadLetterRoundTrip(t *testing.T) {
	t.Parallel()

	m := newMemory(t)
	enqueue(t, m, event(404, 10, 7, domain.RecordSale))

	_, err := newProcessor(m, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	require.Zero(t, m.Daily.Len())
	entries, err := m.DeadLetter.List(context.Background(), domain.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, apperrors.KindReferential, entries[0].ErrorKind)
	require.Contains(t, entries[0].ErrorMessage, "product 404 does not exist")
	require.NotEmpty(t, entries[0].BatchID)
}

func TestRun_CommutativeAcrossBatches(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		batchSize int
		qtys      []float64
	}{
		{name: "one batch", batchSize: 10, qtys: []float64{3, 5}},
		{name: "two batches", batchSize: 1, qtys: []float64{3, 5}},
		{name: "two batches reversed", batchSize: 1, qtys: []float64{5, 3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := newMemory(t)
			for _, q := range tc.qtys {
				enqueue(t, m, event(1, 10, q, domain.RecordSale))
			}
			_, err := newProcessor(m, Config{BatchSize: tc.batchSize}, nil).Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 8.0, dailyTotal(m, 1, 10, domain.RecordSale))
		})
	}
}

func TestRun_WritesRollingStatsAndOrderpoints(t *testing.T) {
	t.Parallel()

	m := newMemory(t)
	enqueue(t, m, event(1, 10, 30, domain.RecordSale), event(1, 20, 30, domain.RecordSale))
	cfg := Config{HybridWarehouses: []int64{20}}

	res, err := newProcessor(m, cfg, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Refreshed)
	require.Zero(t, res.Deferred)
	// sale + transfer for warehouse 10, plus combined for hybrid 20
	require.Equal(t, 5, m.Rolling.Len())

	ctx := context.Background()
	sale, found, err := m.Rolling.Get(ctx, domain.RollingKey{ProductID: 1, WarehouseID: 10, RecordType: domain.RecordSale})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.SourceQueue, sale.CalculationSource)
	w30, ok := sale.Window(30)
	require.True(t, ok)
	require.InDelta(t, 1.0, w30.Mean, 1e-12)

	op, found, err := m.Orderpoints.Get(ctx, domain.Pair{ProductID: 1, WarehouseID: 10})
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 100, op.LocationID)
	require.Greater(t, op.PointReorder, 0.0)
	require.GreaterOrEqual(t, op.ProductMaxQty, op.ProductMinQty)
}

func TestRun_UnclassifiedFailureDefersWholeBatch(t *testing.T) {
	t.Parallel()

	m := newMemory(t)
	enqueue(t, m,
		event(1, 10, 3, domain.RecordSale),
		event(404, 10, 1, domain.RecordSale),
		event(2, 10, 5, domain.RecordSale),
	)
	uow := &faultyUoW{Memory: m, daily: failingDaily{err: errors.New("numeric field overflow")}}

	res, err := newProcessor(uow, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.FailedBatches)
	require.Equal(t, 3, res.DeadLettered)

	require.Zero(t, m.Queue.Len())
	require.Zero(t, m.Daily.Len())
	require.Zero(t, m.Rolling.Len())
	require.Empty(t, m.EventLog.Records(domain.Day(now)))

	stats, err := m.DeadLetter.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, stats[apperrors.KindUnclassified][domain.DeadLetterPending])
	require.EqualValues(t, 3, stats.Total())
}

func TestRun_TransientFailureRequeuesWithRetryCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newMemory(t)
	enqueue(t, m, event(1, 10, 3, domain.RecordSale), event(404, 10, 1, domain.RecordSale))
	boom := apperrors.Transient("upsert daily", errors.New("connection reset"))
	uow := &faultyUoW{Memory: m, daily: failingDaily{err: boom}}

	res, err := newProcessor(uow, Config{}, nil).Run(ctx)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StopTransient, res.StopReason)
	require.Zero(t, res.Batches)
	require.Equal(t, 2, res.Consumed)
	require.Equal(t, 2, res.Requeued)

	require.Equal(t, 2, m.Queue.Len())
	require.Zero(t, m.DeadLetter.Len())
	require.Empty(t, m.EventLog.Records(domain.Day(now)))

	evs, err := m.Queue.ConsumeBatch(ctx, 10)
	require.NoError(t, err)
	for _, ev := range evs {
		require.Equal(t, 1, ev.RetryCount)
	}
}

func TestRun_RepeatedTransientFailureDeadLetters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newMemory(t)
	enqueue(t, m, event(1, 10, 3, domain.RecordSale), event(2, 10, 1, domain.RecordSale))
	boom := apperrors.Transient("upsert daily", errors.New("canceling statement due to statement timeout"))
	uow := &faultyUoW{Memory: m, daily: failingDaily{err: boom}}
	p := newProcessor(uow, Config{BatchSize: 1, MaxRetries: 3}, nil)

	for i := 0; i < 10; i++ {
		_, _ = p.Run(ctx)
	}

	require.Zero(t, m.Queue.Len())
	require.Zero(t, m.Daily.Len())
	entries, err := m.DeadLetter.List(ctx, domain.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, apperrors.KindTransient, e.ErrorKind)
		require.Equal(t, 3, e.RetryCount)
		require.Equal(t, domain.DeadLetterPending, e.State)
	}

	res, err := p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StopEmpty, res.StopReason)
}

func TestRun_TimeBudgetCheckedBetweenBatches(t *testing.T) {
	t.Parallel()

	m := newMemory(t)
	enqueue(t, m,
		event(1, 10, 1, domain.RecordSale),
		event(1, 10, 1, domain.RecordSale),
		event(1, 10, 1, domain.RecordSale),
	)
	c := &clock{t: now, step: time.Second}
	p := New(m, nil, nil, Config{BatchSize: 1, TimeBudget: time.Millisecond}).WithClock(c.Now)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopBudget, res.StopReason)
	require.Equal(t, 1, res.Batches)
	require.Equal(t, 2, m.Queue.Len())
}

func TestRun_BackpressureWidensBatches(t *testing.T) {
	t.Parallel()

	m := newMemory(t)
	for i := 0; i < 5; i++ {
		enqueue(t, m, event(1, 10, 1, domain.RecordSale))
	}
	monitor := backpressure.NewMonitor(m.Queue)
	p := newProcessor(m, Config{BatchSize: 1}, nil).WithBackpressure(monitor, 0, 3)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Backpressure)
	require.Equal(t, 3, res.Batches)
	require.Equal(t, 5, res.Consumed)

	enqueue(t, m, event(1, 10, 1, domain.RecordSale), event(1, 10, 1, domain.RecordSale))
	res, err = p.Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Backpressure)
	require.Equal(t, 2, res.Batches)
	require.False(t, monitor.Flagged())
}

func TestRun_RuleEngineTimeoutGoesToBacklog(t *testing.T) {
	t.Parallel()

	m := newMemory(t)
	enqueue(t, m, event(1, 10, 3, domain.RecordSale), event(2, 10, 3, domain.RecordSale))

	slow := &reorder.Refresher{Engine: blockingEngine{}, Timeout: 10 * time.Millisecond}
	res, err := newProcessor(m, Config{}, slow).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Aggregated)
	require.Equal(t, 2, res.Deferred)
	require.Zero(t, m.Orderpoints.Len())
	require.Equal(t, 2, m.Backlog.Len())

	res, err = newProcessor(m, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopEmpty, res.StopReason)
	require.Equal(t, 2, res.Refreshed)
	require.Zero(t, m.Backlog.Len())
	require.Equal(t, 2, m.Orderpoints.Len())
}

func TestRun_ReprocessedEventResolvesItsEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newMemory(t)
	enqueue(t, m, event(3, 10, 2, domain.RecordSale))
	m.Catalog.RemoveProduct(3)

	p := newProcessor(m, Config{}, nil)
	_, err := p.Run(ctx)
	require.NoError(t, err)
	entries, err := m.DeadLetter.List(ctx, domain.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	id := entries[0].ID

	// Still missing: the same entry goes back to pending.
	moved, err := m.DeadLetter.Transition(ctx, []string{id}, []domain.DeadLetterState{domain.DeadLetterPending}, domain.DeadLetterReprocessing, now)
	require.NoError(t, err)
	enqueue(t, m, moved[0].Requeue())
	_, err = p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, m.DeadLetter.Len())
	got, err := m.DeadLetter.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.DeadLetterPending, got.State)
	require.Equal(t, 1, got.RetryCount)

	m.Catalog.AddProducts(3)
	moved, err = m.DeadLetter.Transition(ctx, []string{id}, []domain.DeadLetterState{domain.DeadLetterPending}, domain.DeadLetterReprocessing, now)
	require.NoError(t, err)
	enqueue(t, m, moved[0].Requeue())
	_, err = p.Run(ctx)
	require.NoError(t, err)
	got, err = m.DeadLetter.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.DeadLetterResolved, got.State)
	require.Equal(t, 2.0, dailyTotal(m, 3, 10, domain.RecordSale))
}

func TestRun_DropsCopyOfDiscardedDeadLetter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newMemory(t)
	enqueue(t, m, event(3, 10, 2, domain.RecordSale))
	m.Catalog.RemoveProduct(3)

	p := newProcessor(m, Config{}, nil)
	_, err := p.Run(ctx)
	require.NoError(t, err)
	entries, err := m.DeadLetter.List(ctx, domain.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	id := entries[0].ID

	moved, err := m.DeadLetter.Transition(ctx, []string{id}, []domain.DeadLetterState{domain.DeadLetterPending}, domain.DeadLetterReprocessing, now)
	require.NoError(t, err)
	enqueue(t, m, moved[0].Requeue())
	_, err = m.DeadLetter.Transition(ctx, []string{id}, []domain.DeadLetterState{domain.DeadLetterReprocessing}, domain.DeadLetterDiscarded, now)
	require.NoError(t, err)

	res, err := p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Consumed)
	require.Equal(t, 1, res.Dropped)
	require.Zero(t, res.DeadLettered)
	require.Zero(t, m.Queue.Len())

	got, err := m.DeadLetter.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.DeadLetterDiscarded, got.State)

	// Catalog fixed meanwhile: the discarded event still never counts.
	m.Catalog.AddProducts(3)
	enqueue(t, m, moved[0].Requeue())
	res, err = p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Dropped)
	require.Zero(t, dailyTotal(m, 3, 10, domain.RecordSale))
}

func TestRun_EmptyQueue(t *testing.T) {
	t.Parallel()

	res, err := newProcessor(newMemory(t), Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopEmpty, res.StopReason)
	require.Zero(t, res.Batches)
}

// faultyUoW swaps the daily store of every transaction.
type faultyUoW struct {
	*storage.Memory
	daily daily.Store
}

func (u *faultyUoW) Do(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return u.Memory.Do(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, faultyTx{Tx: tx, daily: u.daily})
	})
}

type faultyTx struct {
	storage.Tx
	daily daily.Store
}

func (t faultyTx) Stores() storage.Stores {
	s := t.Tx.Stores()
	s.Daily = t.daily
	return s
}

type failingDaily struct {
	daily.Store
	err error
}

func (f failingDaily) Upsert(context.Context, []daily.Group, time.Time) (int, error) {
	return 0, f.err
}

type blockingEngine struct{}

func (blockingEngine) Evaluate(ctx context.Context, _ *reorder.RuleSet, _ reorder.Input) (reorder.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
