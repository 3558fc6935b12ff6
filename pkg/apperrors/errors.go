package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported")
)

// Kind classifies a terminal or degraded pipeline failure.
type Kind string

const (
	KindConnectionFailed       Kind = "connection_failed"
	KindEmptySchema            Kind = "empty_schema"
	KindGenerationFailed       Kind = "generation_failed"
	KindQueryRejected          Kind = "query_rejected"
	KindExecutionFailed        Kind = "execution_failed"
	KindExplanationUnavailable Kind = "explanation_unavailable"
	KindHistoryWriteFailed     Kind = "history_write_failed"
	KindCancelled              Kind = "cancelled"
	KindInternal               Kind = "internal"
)

// Fatal reports whether a failure of this kind ends the run unsuccessfully.
func (k Kind) Fatal() bool {
	switch k {
	case KindExplanationUnavailable, KindHistoryWriteFailed:
		return false
	default:
		return true
	}
}

// PipelineError is the error value surfaced to callers of a query run.
// QueryText holds the last candidate query, if one was produced.
type PipelineError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	QueryText  string `json:"query_text,omitempty"`
	Cause      error  `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError creates a PipelineError of the given kind.
func NewPipelineError(kind Kind, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: cause}
}

// WithQuery sets the last attempted query text and returns the receiver.
func (e *PipelineError) WithQuery(text string) *PipelineError {
	e.QueryText = text
	return e
}

// WithSuggestion sets a human-readable hint and returns the receiver.
func (e *PipelineError) WithSuggestion(s string) *PipelineError {
	e.Suggestion = s
	return e
}

// KindOf returns the Kind carried by err, or "" if err is not a PipelineError.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
