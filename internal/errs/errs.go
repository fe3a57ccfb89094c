// Package errs implements the error taxonomy of the query engine: a closed
// set of kinds, a uniform payload usable for both human and structured
// output, and a debug/normal rendering split.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy.
type Kind string

const (
	KindUsage         Kind = "UsageError"
	KindFileAccess    Kind = "FileAccessError"
	KindDecoding      Kind = "DecodingError"
	KindUnresolvedCopy Kind = "UnresolvedCopy"
	KindCyclicCopy    Kind = "CyclicCopy"
	KindParseDiag     Kind = "ParseDiagnostic"
	KindCache         Kind = "CacheError"
	KindQueryMiss     Kind = "QueryMiss"
	KindInterrupted   Kind = "Interrupted"
)

// Coqu is the uniform error payload. Printed with %s it renders Message,
// followed by ": " and Detail when Detail is set;
// Debug() renders the full context (line, column, wrapped detail).
type Coqu struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Detail  string `json:"detail,omitempty"`
	inner   error
}

func (e *Coqu) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

func (e *Coqu) Unwrap() error { return e.inner }

// Debug renders the full diagnostic context, used when debug mode is on
// (spec.md §7: "Debug mode ... includes full diagnostic context").
func (e *Coqu) Debug() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.File != "" {
		s += fmt.Sprintf(" (%s", e.File)
		if e.Line > 0 {
			s += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				s += fmt.Sprintf(":%d", e.Column)
			}
		}
		s += ")"
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

// JSON renders the error as a structured payload.
func (e *Coqu) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a Coqu error of the given kind.
func New(kind Kind, message string) *Coqu {
	return &Coqu{Kind: kind, Message: message}
}

// Wrap creates a Coqu error carrying an inner cause.
func Wrap(kind Kind, message string, inner error) *Coqu {
	detail := ""
	if inner != nil {
		detail = inner.Error()
	}
	return &Coqu{Kind: kind, Message: message, Detail: detail, inner: inner}
}

// At attaches a source location to an error, returning a new value.
func (e *Coqu) At(file string, line, column int) *Coqu {
	cp := *e
	cp.File = file
	cp.Line = line
	cp.Column = column
	return &cp
}

// Is supports errors.Is against a Kind sentinel wrapped via KindError.
func (e *Coqu) Is(target error) bool {
	var other *Coqu
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindError is a bare sentinel usable with errors.Is(err, errs.KindError(KindQueryMiss)).
func KindError(k Kind) error { return &Coqu{Kind: k} }
