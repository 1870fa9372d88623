// Package transform maps raw archive lines onto canonical customer records.
package transform

import (
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/jonathan/customer-etl/internal/schemas"
	"github.com/jonathan/customer-etl/internal/types"
)

// ParseError represents a line that could not be mapped to a canonical record.
type ParseError struct {
	// Line is the 1-based position among the non-blank lines this invocation
	// streamed, across entries. It is not a line number within an entry
	// file, and a resumed run counts from its first unprocessed entry.
	Line    int
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	prefix := "parse error"
	if e.Line > 0 {
		prefix = fmt.Sprintf("parse error on stream line %d", e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

type rawRecord struct {
	ID        json.RawMessage `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	UpdatedAt string          `json:"updated_at"`
}

// Transformer maps lines to records. The zero value is not usable; use New.
type Transformer struct {
	validator *schemas.Validator
}

// New creates a Transformer validating lines against the raw customer schema.
func New() (*Transformer, error) {
	v, err := schemas.CustomerRecord()
	if err != nil {
		return nil, err
	}
	return &Transformer{validator: v}, nil
}

// Line maps one raw JSON line: external_id=id, name trimmed, email
// lower-cased, updated_at passed through verbatim. The timestamp is not
// interpreted here; a value the store cannot cast fails the load.
func (t *Transformer) Line(line string) (types.Customer, error) {
	if err := t.validator.ValidateBytes([]byte(line)); err != nil {
		return types.Customer{}, &ParseError{Message: "invalid record", Cause: err}
	}

	var raw rawRecord
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return types.Customer{}, &ParseError{Message: "invalid JSON", Cause: err}
	}
	id, err := externalID(raw.ID)
	if err != nil {
		return types.Customer{}, &ParseError{Message: "invalid id", Cause: err}
	}

	return types.Customer{
		ExternalID: id,
		Name:       strings.TrimSpace(raw.Name),
		Email:      strings.ToLower(raw.Email),
		UpdatedAt:  raw.UpdatedAt,
	}, nil
}

// Records lazily maps lines to records. Upstream errors are passed through;
// the first parse failure is yielded, tagged with its stream position, and
// ends the sequence.
func (t *Transformer) Records(lines iter.Seq2[string, error]) iter.Seq2[types.Customer, error] {
	return func(yield func(types.Customer, error) bool) {
		lineNo := 0
		for line, err := range lines {
			if err != nil {
				yield(types.Customer{}, err)
				return
			}
			lineNo++
			rec, err := t.Line(line)
			if err != nil {
				if pe, ok := err.(*ParseError); ok {
					pe.Line = lineNo
				}
				yield(types.Customer{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// externalID accepts a JSON string or integer id and returns it as text.
func externalID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
