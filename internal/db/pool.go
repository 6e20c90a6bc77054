// Package db provides the Postgres connection seam and the transactional
// upsert used by every loader.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool used by this module. pgxmock satisfies it.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a Pool that must be released when the task is done with it.
type Conn interface {
	Pool
	Close()
}

// Connector opens a fresh connection for one task.
type Connector func(ctx context.Context) (Conn, error)

// NewConnector returns a Connector dialing dsn. Each call yields a pool capped
// at a single connection, so a task never shares a connection with another.
func NewConnector(dsn string) Connector {
	return func(ctx context.Context) (Conn, error) {
		pool, err := Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
}

// Open dials dsn with a single-connection pool and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.New("db: no database url configured")
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse database url")
	}
	pcfg.MaxConns = 1
	pcfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, eris.Wrap(err, "db: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping database")
	}
	return pool, nil
}
