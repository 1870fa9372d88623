package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/customer-etl/internal/types"
)

func TestMemory_StartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Start(ctx, "run-1"))
	require.NoError(t, m.SetPhase(ctx, "run-1", types.PhaseLoad))

	// A second start must not reset the phase.
	require.NoError(t, m.Start(ctx, "run-1"))

	run, err := m.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, types.RunStatusRunning, run.Status)
	assert.Equal(t, types.PhaseLoad, run.CurrentPhase)
}

func TestMemory_GetRunMissing(t *testing.T) {
	run, err := NewMemory().GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestMemory_SetPhaseUnknownRun(t *testing.T) {
	err := NewMemory().SetPhase(context.Background(), "nope", types.PhaseDownload)
	require.Error(t, err)

	var storeErr *StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "nope", storeErr.RunID)
}

func TestMemory_SetPhaseRejectsUnknownPhase(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Start(ctx, "run-1"))

	err := m.SetPhase(ctx, "run-1", types.Phase("PUBLISH"))
	require.Error(t, err)
	var storeErr *StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.Contains(t, err.Error(), "unknown phase")

	run, err := m.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseInit, run.CurrentPhase)
}

func TestMemory_TerminalStateNeverReverted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Start(ctx, "run-1"))

	require.NoError(t, m.Fail(ctx, "run-1", "boom"))
	require.NoError(t, m.Fail(ctx, "run-1", "second"))
	require.NoError(t, m.Complete(ctx, "run-1"))

	run, err := m.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "boom", *run.ErrorMessage)
}

func TestMemory_CompleteThenFail(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Start(ctx, "run-1"))
	require.NoError(t, m.Complete(ctx, "run-1"))
	require.NoError(t, m.Fail(ctx, "run-1", "late"))

	run, err := m.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Nil(t, run.ErrorMessage)
}

func TestMemory_CheckpointMonotonicCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "run-1", types.PhaseLoad)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, cursor := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, "run-1", types.PhaseLoad, cursor))
	}

	cursor, ok, err := m.Get(ctx, "run-1", types.PhaseLoad)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c", cursor)

	// Other runs and phases are independent keys.
	_, ok, _ = m.Get(ctx, "run-2", types.PhaseLoad)
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "run-1", types.PhaseExtract)
	assert.False(t, ok)
}

func TestMemory_ListCheckpointsOrderedByPhase(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "run-1", types.PhaseLoad, "e3"))
	require.NoError(t, m.Set(ctx, "run-1", types.PhaseExtract, "part-1.jsonl"))
	require.NoError(t, m.Set(ctx, "run-2", types.PhaseLoad, "x"))

	cps, err := m.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, types.PhaseExtract, cps[0].Phase)
	assert.Equal(t, types.PhaseLoad, cps[1].Phase)
}

func TestMemory_UpsertCustomersOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertCustomers(ctx, []types.Customer{
		{ExternalID: "e1", Name: "Old", Email: "old@example.com", UpdatedAt: "2024-01-01T00:00:00Z"},
	}))
	require.NoError(t, m.UpsertCustomers(ctx, []types.Customer{
		{ExternalID: "e1", Name: "New", Email: "new@example.com", UpdatedAt: "2024-01-01 01:00:00+00:00"},
	}))

	customers := m.Customers()
	require.Len(t, customers, 1)
	assert.Equal(t, "New", customers[0].Name)
	assert.Equal(t, "new@example.com", customers[0].Email)
	assert.Equal(t, "2024-01-01 01:00:00+00:00", customers[0].UpdatedAt)
}
