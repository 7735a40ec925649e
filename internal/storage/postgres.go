package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockpulse.io/stockpulse/internal/catalog"
	"stockpulse.io/stockpulse/internal/daily"
	"stockpulse.io/stockpulse/internal/deadletter"
	"stockpulse.io/stockpulse/internal/eventlog"
	"stockpulse.io/stockpulse/internal/intake"
	"stockpulse.io/stockpulse/internal/pkg/dbtx"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/rolling"
)

// Postgres is the PostgreSQL backend over a shared pool.
type Postgres struct {
	pool       *pgxpool.Pool
	catalog    *catalog.PostgresCatalog
	partitions *eventlog.PartitionCache
	now        func() time.Time
}

// NewPostgres creates the backend. Catalog tables are validated here.
func NewPostgres(pool *pgxpool.Pool, tables catalog.Tables, now func() time.Time) (*Postgres, error) {
	cat, err := catalog.NewPostgresCatalog(pool, tables)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Postgres{pool: pool, catalog: cat, partitions: eventlog.NewPartitionCache(), now: now}, nil
}

// Pool returns the underlying pool.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Stores implements UnitOfWork.
func (p *Postgres) Stores() Stores {
	return p.bind(p.pool)
}

func (p *Postgres) bind(db dbtx.DBTX) Stores {
	return Stores{
		Queue:       intake.NewPostgresQueue(db),
		DeadLetter:  deadletter.NewPostgresStore(db),
		Daily:       daily.NewPostgresStore(db),
		Rolling:     rolling.NewPostgresStore(db),
		EventLog:    eventlog.NewPostgresLog(db, p.pool, p.partitions, p.now),
		Orderpoints: reorder.NewPostgresOrderpoints(db),
		Backlog:     reorder.NewPostgresBacklog(db),
		Catalog:     p.catalog.WithDB(db),
	}
}

// Do implements UnitOfWork.
func (p *Postgres) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(ctx, &postgresTx{p: p, tx: tx})
	})
}

// Ping implements UnitOfWork.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Driver implements UnitOfWork.
func (p *Postgres) Driver() string {
	return DriverPostgres
}

type postgresTx struct {
	p  *Postgres
	tx pgx.Tx
}

func (t *postgresTx) Stores() Stores {
	return t.p.bind(t.tx)
}

// Savepoint maps to a pgx nested transaction, which is a SAVEPOINT.
func (t *postgresTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, t.tx, func(sp pgx.Tx) error {
		return fn(ctx)
	})
}
