// Package store defines the persistence contracts used by the ETL run engine
// and an in-memory implementation of them.
//
// Every method commits before it returns: a nil error means the write is
// durable for the backing implementation.
package store

import (
	"context"

	"github.com/jonathan/customer-etl/internal/types"
)

// RunStore persists run-level state.
type RunStore interface {
	// Start creates the run in RUNNING/INIT if it does not exist. It never
	// resets an existing run.
	Start(ctx context.Context, runID string) error
	// SetPhase overwrites the current phase unconditionally.
	SetPhase(ctx context.Context, runID string, phase types.Phase) error
	// Fail marks a RUNNING run FAILED with message. Calling it again is a no-op.
	Fail(ctx context.Context, runID string, message string) error
	// Complete marks a RUNNING run COMPLETED.
	Complete(ctx context.Context, runID string) error
	// GetRun returns the run, or nil if it does not exist.
	GetRun(ctx context.Context, runID string) (*types.Run, error)
}

// CheckpointStore persists the per-phase resume cursor of a run.
type CheckpointStore interface {
	// Get returns the cursor for (runID, phase); ok is false when none was set.
	Get(ctx context.Context, runID string, phase types.Phase) (cursor string, ok bool, err error)
	// Set upserts the cursor for (runID, phase).
	Set(ctx context.Context, runID string, phase types.Phase, cursor string) error
	// List returns all checkpoints of a run ordered by phase.
	List(ctx context.Context, runID string) ([]types.Checkpoint, error)
}

// CustomerSink applies a batch of canonical records as one insert-or-update
// keyed by external_id, committing the whole batch or nothing. Later
// occurrences of a key within the batch win. The batch slice is reused by
// the caller after the call returns.
type CustomerSink interface {
	UpsertCustomers(ctx context.Context, batch []types.Customer) error
}
