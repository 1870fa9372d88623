package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/customer-etl/internal/store"
	"github.com/jonathan/customer-etl/internal/types"
)

// Get retrieves the cursor for a (run, phase) pair
func (db *DB) Get(ctx context.Context, runID string, phase types.Phase) (string, bool, error) {
	var cursor string
	err := db.pool.QueryRow(ctx,
		`SELECT cursor FROM etl_checkpoint WHERE run_id = $1 AND phase = $2`,
		runID, phase,
	).Scan(&cursor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, &store.StoreError{Op: "get checkpoint " + string(phase), RunID: runID, Cause: err}
	}
	return cursor, true, nil
}

// Set upserts the cursor for a (run, phase) pair
func (db *DB) Set(ctx context.Context, runID string, phase types.Phase, cursor string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO etl_checkpoint (run_id, phase, cursor)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, phase) DO UPDATE
		 SET cursor = EXCLUDED.cursor, updated_at = NOW()`,
		runID, phase, cursor,
	)
	if err != nil {
		return &store.StoreError{Op: "set checkpoint " + string(phase), RunID: runID, Cause: err}
	}
	return nil
}

// List retrieves all checkpoints of a run in pipeline order
func (db *DB) List(ctx context.Context, runID string) ([]types.Checkpoint, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT run_id, phase, cursor, updated_at
		 FROM etl_checkpoint
		 WHERE run_id = $1
		 ORDER BY CASE phase
		     WHEN 'DOWNLOAD' THEN 1
		     WHEN 'EXTRACT' THEN 2
		     WHEN 'TRANSFORM' THEN 3
		     WHEN 'LOAD' THEN 4
		     ELSE 5 END`,
		runID,
	)
	if err != nil {
		return nil, &store.StoreError{Op: "list checkpoints", RunID: runID, Cause: err}
	}
	defer rows.Close()

	var checkpoints []types.Checkpoint
	for rows.Next() {
		var cp types.Checkpoint
		if err := rows.Scan(&cp.RunID, &cp.Phase, &cp.Cursor, &cp.UpdatedAt); err != nil {
			return nil, &store.StoreError{Op: "scan checkpoint", RunID: runID, Cause: err}
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StoreError{Op: "list checkpoints", RunID: runID, Cause: err}
	}
	return checkpoints, nil
}
