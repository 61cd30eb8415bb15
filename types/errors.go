package types

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrMissingField marks a document without one of its required keys.
	ErrMissingField = errors.New("missing required field")

	// ErrDimensionMismatch marks a vector whose length differs from the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ParseError is returned when an input document is malformed or incomplete.
type ParseError struct {
	Path   string
	Fields map[string]string
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse ")
	b.WriteString(e.Path)
	if len(e.Fields) > 0 {
		b.WriteString(": invalid fields")
		for _, name := range slices.Sorted(maps.Keys(e.Fields)) {
			fmt.Fprintf(&b, " %s(%s)", name, e.Fields[name])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmbeddingServiceError wraps network, auth and response-format failures of
// the embedding provider.
type EmbeddingServiceError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func NewEmbeddingServiceError(op string, status int, msg string, err error) *EmbeddingServiceError {
	return &EmbeddingServiceError{
		Op:         op,
		StatusCode: status,
		Message:    msg,
		Err:        err,
	}
}

func (e *EmbeddingServiceError) Error() string {
	msg := "embedding service: " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Message, e.Err.Error())) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// PersistenceError wraps connection, schema and write failures of the store.
type PersistenceError struct {
	Op  string
	Err error
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
