package takumi

import (
	"time"

	"github.com/google/uuid"
)

// Tool is the public representation of a registered tool's signature.
// It is a curated view of internal/model.ToolMetadata for use at the
// embedding boundary. No internal package imports — safe to use from
// outside the module.
type Tool struct {
	Name   string
	Doc    string
	Params []Param
}

// Param is one tool parameter in declaration order.
type Param struct {
	Name     string
	Required bool
	Default  any
	// Type is the inferred annotation: int, float, bool, str, json, or any.
	Type string
	// KwOnly marks parameters that must be supplied by keyword.
	KwOnly bool
}

// Flow is a named, ordered sequence of tool invocations.
type Flow struct {
	Name        string
	Description string
	// Inputs are the external input keys a run must supply.
	Inputs []string
	Steps  []FlowStep
	// Output is the flow's result expression: a literal, or a
	// "$inputs.<key>" / "$ctx.<key>" placeholder resolved after the
	// last step.
	Output any
}

// FlowStep invokes one registered tool. Param values that are exactly
// "$inputs.<key>" or "$ctx.<key>" are substituted at run time; anything
// else passes through as a literal.
type FlowStep struct {
	ID     string
	Tool   string
	Params map[string]any
	// SaveAs renames the step's context key; empty means the step ID.
	SaveAs string
}

// Run is one record from a tool's or flow's run log.
type Run struct {
	RunID        uuid.UUID
	FlowRunID    *uuid.UUID
	StepID       string
	Tool         string
	Params       map[string]any
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string // success | error
	ErrorType    string
	ErrorMessage string
	// Result is a bounded single-line JSON preview of the return value.
	Result string
}
