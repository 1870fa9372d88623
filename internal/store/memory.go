package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/customer-etl/internal/types"
)

type checkpointKey struct {
	runID string
	phase types.Phase
}

// Memory implements RunStore, CheckpointStore and CustomerSink in process
// memory. It backs tests and dry runs; nothing survives the process.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	runs        map[string]types.Run
	checkpoints map[checkpointKey]types.Checkpoint
	customers   map[string]types.Customer
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:         time.Now,
		runs:        make(map[string]types.Run),
		checkpoints: make(map[checkpointKey]types.Checkpoint),
		customers:   make(map[string]types.Customer),
	}
}

// Start implements RunStore.
func (m *Memory) Start(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; ok {
		return nil
	}
	now := m.now()
	m.runs[runID] = types.Run{
		RunID:        runID,
		Status:       types.RunStatusRunning,
		CurrentPhase: types.PhaseInit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return nil
}

// SetPhase implements RunStore.
func (m *Memory) SetPhase(_ context.Context, runID string, phase types.Phase) error {
	if !phase.Valid() {
		return &StoreError{Op: "set phase", RunID: runID, Cause: fmt.Errorf("unknown phase %q", phase)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return &StoreError{Op: "set phase", RunID: runID, Cause: fmt.Errorf("run not found")}
	}
	run.CurrentPhase = phase
	run.UpdatedAt = m.now()
	m.runs[runID] = run
	return nil
}

// Fail implements RunStore.
func (m *Memory) Fail(_ context.Context, runID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok || run.Status != types.RunStatusRunning {
		return nil
	}
	run.Status = types.RunStatusFailed
	run.ErrorMessage = &message
	run.UpdatedAt = m.now()
	m.runs[runID] = run
	return nil
}

// Complete implements RunStore.
func (m *Memory) Complete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok || run.Status != types.RunStatusRunning {
		return nil
	}
	run.Status = types.RunStatusCompleted
	run.UpdatedAt = m.now()
	m.runs[runID] = run
	return nil
}

// GetRun implements RunStore.
func (m *Memory) GetRun(_ context.Context, runID string) (*types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

// Get implements CheckpointStore.
func (m *Memory) Get(_ context.Context, runID string, phase types.Phase) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[checkpointKey{runID, phase}]
	return cp.Cursor, ok, nil
}

// Set implements CheckpointStore.
func (m *Memory) Set(_ context.Context, runID string, phase types.Phase, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[checkpointKey{runID, phase}] = types.Checkpoint{
		RunID:     runID,
		Phase:     phase,
		Cursor:    cursor,
		UpdatedAt: m.now(),
	}
	return nil
}

// List implements CheckpointStore.
func (m *Memory) List(_ context.Context, runID string) ([]types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Checkpoint
	for key, cp := range m.checkpoints {
		if key.runID == runID {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase.Before(out[j].Phase) })
	return out, nil
}

// UpsertCustomers implements CustomerSink.
func (m *Memory) UpsertCustomers(_ context.Context, batch []types.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range batch {
		m.customers[c.ExternalID] = c
	}
	return nil
}

// Customers returns a snapshot of the loaded customers ordered by external_id.
func (m *Memory) Customers() []types.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}
