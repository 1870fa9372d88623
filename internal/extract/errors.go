package extract

import "fmt"

// DecodeError represents an archive or archive entry that could not be read
// or decoded as UTF-8 text.
type DecodeError struct {
	Archive string
	Entry   string
	Line    int
	Message string
	Cause   error
}

func (e *DecodeError) Error() string {
	loc := e.Archive
	if e.Entry != "" {
		loc += ":" + e.Entry
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s line %d", loc, e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("decode error in %s: %s: %v", loc, e.Message, e.Cause)
	}
	return fmt.Sprintf("decode error in %s: %s", loc, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
