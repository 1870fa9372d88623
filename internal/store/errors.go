package store

import "fmt"

// StoreError represents a failed read or write against a run, checkpoint or
// customer store.
type StoreError struct {
	Op    string
	RunID string
	Cause error
}

func (e *StoreError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("store error: %s (run %s): %v", e.Op, e.RunID, e.Cause)
	}
	return fmt.Sprintf("store error: %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
