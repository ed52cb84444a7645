// Package rollupdb is the relational persistence layer for the daily/hourly
// rollup tables and the credentials table, built on jackc/pgx/v5 +
// jackc/pgx/v5/pgxpool for the connection pool and jmoiron/sqlx for
// named-parameter upserts, with pressly/goose/v3 driving embedded schema
// migrations.
//
// pgx's default QueryExecModeCacheStatement caches prepared statement
// plans, which go stale ("cached plan must not change result type",
// SQLSTATE 0A000) the moment a migration runs against a schema while
// connections are still open — exactly the situation the aggregation
// worker's live upgrades create. DescribeExec re-describes each query
// without caching the plan, at the cost of one extra round trip per
// statement.
package rollupdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for sqlx
)

// PoolConfig bounds connection pool size. Pools are sized small (e.g. 5-10);
// cold-start warmup opens a minimum number of connections eagerly.
type PoolConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxConnIdle time.Duration
}

// DefaultPoolConfig returns the recommended pool sizing for this workload.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:         dsn,
		MaxConns:    10,
		MinConns:    5,
		MaxConnIdle: 10 * time.Minute,
	}
}

// DB wraps a pgxpool.Pool plus an sqlx.DB handle over the same DSN, used
// respectively for pool-native statements (migrations, health checks) and
// named-parameter upserts.
type DB struct {
	Pool *pgxpool.Pool
	SQLX *sqlx.DB
}

// Open builds a connection pool with DefaultQueryExecMode pinned to
// DescribeExec, per the #200 fix, and eagerly warms MinConns connections.
func Open(ctx context.Context, cfg PoolConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("rollupdb: parse dsn: %w", err)
	}

	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdle

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("rollupdb: open pool: %w", err)
	}

	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for i := int32(0); i < cfg.MinConns; i++ {
		conn, err := pool.Acquire(warmupCtx)
		if err != nil {
			break
		}
		conn.Release()
	}

	sqlxDB := sqlx.NewDb(stdlibOpen(cfg.DSN), "pgx")

	return &DB{Pool: pool, SQLX: sqlxDB}, nil
}

// Ping reports whether the pool can reach the database, used by the query
// service's health endpoint.
func (d *DB) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// Close releases both the pool and the sqlx handle.
func (d *DB) Close() {
	d.Pool.Close()
	_ = d.SQLX.Close()
}
