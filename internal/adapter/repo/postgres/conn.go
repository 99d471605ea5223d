// Package postgres reads the small operator tables the filter consults:
// paused contacts, blacklisted groups, and blocked enterprise groups.
// The CRUD for these tables lives in the operator UI service; this side
// only reads.
package postgres

import (
	"context"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of pgxpool.Pool the repos need; narrowed for tests.
type PgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool creates a pgx connection pool from the provided DSN.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()
	return pgxpool.NewWithConfig(ctx, cfg)
}
