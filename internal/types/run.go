// Package types provides type definitions for structured data used throughout the ETL run engine.
package types

import "time"

// RunStatus is the lifecycle status of a run.
type RunStatus string

// Run status constants
const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Phase is one pipeline stage. INIT is the phase of a run that has been
// started but has not entered any stage yet.
type Phase string

// Phase constants, in pipeline order
const (
	PhaseInit      Phase = "INIT"
	PhaseDownload  Phase = "DOWNLOAD"
	PhaseExtract   Phase = "EXTRACT"
	PhaseTransform Phase = "TRANSFORM"
	PhaseLoad      Phase = "LOAD"
)

var phaseOrder = map[Phase]int{
	PhaseInit:      0,
	PhaseDownload:  1,
	PhaseExtract:   2,
	PhaseTransform: 3,
	PhaseLoad:      4,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p comes strictly before other in pipeline order.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// Run is the durable run-level state for one run_id.
type Run struct {
	RunID        string    `json:"run_id"`
	Status       RunStatus `json:"status"`
	CurrentPhase Phase     `json:"current_phase"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Checkpoint is the resume marker for a (run_id, phase) pair.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}
