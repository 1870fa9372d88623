package fetch

import "fmt"

// TransportError represents a failure retrieving the remote archive:
// network errors, timeouts, non-2xx responses and object store errors.
type TransportError struct {
	Source     string
	Message    string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport error for %s: %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("transport error for %s: %s", e.Source, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
