package storage

import (
	"context"
	"sync"
	"time"

	"stockpulse.io/stockpulse/internal/catalog"
	"stockpulse.io/stockpulse/internal/daily"
	"stockpulse.io/stockpulse/internal/deadletter"
	"stockpulse.io/stockpulse/internal/eventlog"
	"stockpulse.io/stockpulse/internal/intake"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/rolling"
	"stockpulse.io/stockpulse/internal/pkg/txlog"
)

// DriverMemory and DriverPostgres name the backends.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Memory is the in-process backend. Units of work are serialized and roll
// back through an undo journal.
type Memory struct {
	mu sync.Mutex

	Queue       *intake.MemoryQueue
	DeadLetter  *deadletter.MemoryStore
	Daily       *daily.MemoryStore
	Rolling     *rolling.MemoryStore
	EventLog    *eventlog.MemoryLog
	Orderpoints *reorder.MemoryOrderpoints
	Backlog     *reorder.MemoryBacklog
	Catalog     *catalog.MemoryCatalog
}

// NewMemory creates an empty in-process backend. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	return &Memory{
		Queue:       intake.NewMemoryQueue(now),
		DeadLetter:  deadletter.NewMemoryStore(),
		Daily:       daily.NewMemoryStore(),
		Rolling:     rolling.NewMemoryStore(),
		EventLog:    eventlog.NewMemoryLog(now),
		Orderpoints: reorder.NewMemoryOrderpoints(),
		Backlog:     reorder.NewMemoryBacklog(),
		Catalog:     catalog.NewMemoryCatalog(),
	}
}

// Stores implements UnitOfWork.
func (m *Memory) Stores() Stores {
	return Stores{
		Queue:       m.Queue,
		DeadLetter:  m.DeadLetter,
		Daily:       m.Daily,
		Rolling:     m.Rolling,
		EventLog:    m.EventLog,
		Orderpoints: m.Orderpoints,
		Backlog:     m.Backlog,
		Catalog:     m.Catalog,
	}
}

// Do implements UnitOfWork.
func (m *Memory) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := txlog.New()
	tctx := txlog.WithJournal(ctx, j)
	defer func() {
		if p := recover(); p != nil {
			j.Rollback()
			panic(p)
		}
		if err != nil {
			j.Rollback()
		}
	}()
	return fn(tctx, &memoryTx{m: m})
}

// Ping implements UnitOfWork.
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Driver implements UnitOfWork.
func (m *Memory) Driver() string {
	return DriverMemory
}

type memoryTx struct {
	m *Memory
}

func (t *memoryTx) Stores() Stores {
	return t.m.Stores()
}

func (t *memoryTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	j := txlog.FromContext(ctx)
	mark := j.Mark()
	if err := fn(ctx); err != nil {
		j.RollbackTo(mark)
		return err
	}
	return nil
}
