// Package db provides PostgreSQL-backed run, checkpoint and customer stores.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/customer-etl/internal/store"
	"github.com/jonathan/customer-etl/internal/types"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

var (
	_ store.RunStore        = (*DB)(nil)
	_ store.CheckpointStore = (*DB)(nil)
	_ store.CustomerSink    = (*DB)(nil)
)

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Start creates the run in RUNNING/INIT unless it already exists
func (db *DB) Start(ctx context.Context, runID string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO etl_run (run_id, status, current_phase)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO NOTHING`,
		runID, types.RunStatusRunning, types.PhaseInit,
	)
	if err != nil {
		return &store.StoreError{Op: "start run", RunID: runID, Cause: err}
	}
	return nil
}

// SetPhase overwrites the current phase of a run
func (db *DB) SetPhase(ctx context.Context, runID string, phase types.Phase) error {
	if !phase.Valid() {
		return &store.StoreError{Op: "set phase", RunID: runID, Cause: fmt.Errorf("unknown phase %q", phase)}
	}
	result, err := db.pool.Exec(ctx,
		`UPDATE etl_run SET current_phase = $1, updated_at = NOW() WHERE run_id = $2`,
		phase, runID,
	)
	if err != nil {
		return &store.StoreError{Op: "set phase", RunID: runID, Cause: err}
	}
	if result.RowsAffected() == 0 {
		return &store.StoreError{Op: "set phase", RunID: runID, Cause: errors.New("run not found")}
	}
	return nil
}

// Fail marks a running run as failed. Runs already in a terminal state are left untouched.
func (db *DB) Fail(ctx context.Context, runID string, message string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE etl_run
		 SET status = $1, error_message = $2, updated_at = NOW()
		 WHERE run_id = $3 AND status = $4`,
		types.RunStatusFailed, message, runID, types.RunStatusRunning,
	)
	if err != nil {
		return &store.StoreError{Op: "fail run", RunID: runID, Cause: err}
	}
	return nil
}

// Complete marks a running run as completed
func (db *DB) Complete(ctx context.Context, runID string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE etl_run
		 SET status = $1, updated_at = NOW()
		 WHERE run_id = $2 AND status = $3`,
		types.RunStatusCompleted, runID, types.RunStatusRunning,
	)
	if err != nil {
		return &store.StoreError{Op: "complete run", RunID: runID, Cause: err}
	}
	return nil
}

// GetRun retrieves a run by ID, or nil if it does not exist
func (db *DB) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	var run types.Run
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, status, current_phase, error_message, created_at, updated_at
		 FROM etl_run WHERE run_id = $1`,
		runID,
	).Scan(&run.RunID, &run.Status, &run.CurrentPhase, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &store.StoreError{Op: "get run", RunID: runID, Cause: err}
	}
	return &run, nil
}
