// Package schema holds the embedded PostgreSQL schema of the pipeline tables.
package schema

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var ddl string

// DDL returns the schema script.
func DDL() string {
	return ddl
}

// Migrate applies the schema. It is safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply pipeline schema: %w", err)
	}
	return nil
}
