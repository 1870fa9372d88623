package db

import (
	"context"
	"fmt"
)

// schemaStatements bootstraps the tables the engine reads and writes. They are
// idempotent and carry no versioning.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS etl_run (
		run_id        TEXT PRIMARY KEY,
		status        TEXT NOT NULL,
		current_phase TEXT NOT NULL,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS etl_checkpoint (
		run_id     TEXT NOT NULL,
		phase      TEXT NOT NULL,
		cursor     TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (run_id, phase)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id          BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		name        TEXT,
		email       TEXT,
		updated_at  TIMESTAMPTZ
	)`,
}

// EnsureSchema creates the run, checkpoint and customer tables if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
