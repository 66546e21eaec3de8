package model

import "fmt"

// Error codes returned in HTTP error envelopes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadReference  = "BAD_REFERENCE"
	ErrCodeToolFailed    = "TOOL_FAILED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NotFoundError reports an unknown tool or flow name.
type NotFoundError struct {
	Kind string // "tool" or "flow"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// ValidationError reports a malformed flow spec, a missing required
// input, or a duplicate name on a non-overwrite registration.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validationf formats a new ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ReferenceError reports a "$inputs.*" or "$ctx.*" placeholder that
// cannot be resolved, including forward references to steps that have
// not executed yet. StepID is empty when the failing placeholder is the
// flow's output expression.
type ReferenceError struct {
	Placeholder string
	StepID      string
}

func (e *ReferenceError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("step %q: unresolved reference %q", e.StepID, e.Placeholder)
	}
	return fmt.Sprintf("unresolved reference %q", e.Placeholder)
}

// ExecutionError reports that the underlying tool callable failed.
// The original error's type and message are carried as data; the cause
// itself is also available through Unwrap. StepID is set when the
// failure surfaced from a flow step, so the caller knows exactly where
// the run stopped.
type ExecutionError struct {
	Tool    string
	StepID  string
	ErrType string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("step %q: tool %q failed: %s", e.StepID, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
