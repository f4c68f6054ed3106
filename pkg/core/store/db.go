package store

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

var (
	pool *pgxpool.Pool
	once sync.Once
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InitDB initializes the database connection pool from a postgres URL.
func InitDB(ctx context.Context, dbURL string) error {
	var err error
	once.Do(func() {
		if dbURL == "" {
			err = eris.New("database url not set")
			return
		}

		config, parseErr := pgxpool.ParseConfig(dbURL)
		if parseErr != nil {
			err = eris.Wrap(parseErr, "failed to parse database config")
			return
		}

		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			err = eris.Wrap(err, "failed to create database pool")
			return
		}
		if pingErr := pool.Ping(ctx); pingErr != nil {
			err = eris.Wrap(pingErr, "database unreachable")
		}
	})
	return err
}

// GetPool returns the database connection pool
func GetPool() *pgxpool.Pool {
	return pool
}

// Close closes the database connection pool
func Close() {
	if pool != nil {
		pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS year_extractions (
	company_id   TEXT        NOT NULL,
	fiscal_year  INT         NOT NULL,
	source_file  TEXT        NOT NULL,
	data         JSONB       NOT NULL,
	ai_provider  TEXT,
	model_used   TEXT,
	extracted_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (company_id, fiscal_year)
);

CREATE TABLE IF NOT EXISTS consolidated_financials (
	company_id    TEXT PRIMARY KEY,
	data          JSONB       NOT NULL,
	years_covered TEXT[]      NOT NULL,
	parsed_at     TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the tables the repositories need.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "failed to create schema")
	}
	return nil
}

// usable drops a typed-nil pool so callers can pass GetPool() unconditionally.
func usable(db DB) DB {
	if p, ok := db.(*pgxpool.Pool); ok && p == nil {
		return nil
	}
	return db
}
