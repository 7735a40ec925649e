// Package storage binds the pipeline stores to a unit of work.
//
// A batch consumes from the intake queue and writes aggregates, the event
// log and dead letters through one Tx, so either all of it commits or the
// consumed events stay queued. Savepoint scopes a part of the work that may
// be undone on its own.
package storage

import (
	"context"

	"stockpulse.io/stockpulse/internal/catalog"
	"stockpulse.io/stockpulse/internal/daily"
	"stockpulse.io/stockpulse/internal/deadletter"
	"stockpulse.io/stockpulse/internal/eventlog"
	"stockpulse.io/stockpulse/internal/intake"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/rolling"
)

// Stores is the set of pipeline stores visible in one scope.
type Stores struct {
	Queue       intake.Queue
	DeadLetter  deadletter.Store
	Daily       daily.Store
	Rolling     rolling.Store
	EventLog    eventlog.Log
	Orderpoints reorder.OrderpointStore
	Backlog     reorder.Backlog
	Catalog     catalog.Catalog
}

// Tx is an open unit of work.
type Tx interface {
	// Stores returns stores bound to the transaction.
	Stores() Stores
	// Savepoint runs fn in a nested scope. When fn fails only the writes made
	// inside it are undone and the transaction stays usable.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWork opens transactions over the pipeline stores.
type UnitOfWork interface {
	// Do runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Stores returns stores that write outside any transaction.
	Stores() Stores
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Driver names the backend.
	Driver() string
}
