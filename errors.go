package takumi

import (
	"errors"

	"github.com/ashita-ai/takumi/internal/model"
)

// Error predicates for the facade's error taxonomy. Callers branch on
// the category, not the concrete type.

// IsNotFound returns true if the error names an unknown tool or flow.
func IsNotFound(err error) bool {
	var e *model.NotFoundError
	return errors.As(err, &e)
}

// IsValidation returns true for malformed specs, illegal names,
// missing required flow inputs, and duplicate non-overwrite
// registrations.
func IsValidation(err error) bool {
	var e *model.ValidationError
	return errors.As(err, &e)
}

// IsReference returns true if a "$inputs.*" or "$ctx.*" placeholder
// could not be resolved.
func IsReference(err error) bool {
	var e *model.ReferenceError
	return errors.As(err, &e)
}

// IsExecution returns true if the tool itself ran and failed.
func IsExecution(err error) bool {
	var e *model.ExecutionError
	return errors.As(err, &e)
}

// FailedStep returns the flow step ID the error is attributed to, or ""
// when the error did not arise inside a flow step.
func FailedStep(err error) string {
	var exec *model.ExecutionError
	if errors.As(err, &exec) {
		return exec.StepID
	}
	var ref *model.ReferenceError
	if errors.As(err, &ref) {
		return ref.StepID
	}
	return ""
}
