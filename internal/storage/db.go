// Package storage persists orders and evaluated chains.
//
// The primary backend is Postgres: an orders table keyed by client order id
// and an append-mostly arbitrage_chains table with the solved steps as JSONB.
// When no DSN is configured, FileStore provides a local JSON fallback with
// the same semantics, so a telemetry-only run needs no database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Open connects to Postgres, applies pool limits, and verifies the
// connection before returning it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS orders (
	client_order_id  TEXT PRIMARY KEY,
	order_id         BIGINT NOT NULL DEFAULT 0,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         NUMERIC NOT NULL,
	price            NUMERIC NOT NULL,
	status           TEXT NOT NULL,
	exchange         TEXT NOT NULL DEFAULT '',
	arbitrage_hash8  BIGINT NOT NULL DEFAULT 0,
	comment          TEXT NOT NULL DEFAULT '',
	created_at_ms    BIGINT NOT NULL,
	updated_at_ms    BIGINT NOT NULL DEFAULT 0,
	fired_at_ms      BIGINT NOT NULL DEFAULT 0,
	transact_time_ms BIGINT NOT NULL DEFAULT 0,
	raw              JSONB
)`, `
CREATE INDEX IF NOT EXISTS orders_arbitrage_hash8_idx ON orders (arbitrage_hash8)`, `
CREATE TABLE IF NOT EXISTS arbitrage_chains (
	uid          TEXT PRIMARY KEY,
	hash8        BIGINT NOT NULL,
	initial_coin TEXT NOT NULL,
	roi          DOUBLE PRECISION NOT NULL,
	profit       DOUBLE PRECISION NOT NULL,
	profit_usd   DOUBLE PRECISION NOT NULL,
	time_ms      BIGINT NOT NULL,
	comment      TEXT NOT NULL DEFAULT '',
	steps        JSONB NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS arbitrage_chains_hash8_idx ON arbitrage_chains (hash8)`}
