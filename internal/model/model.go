// Package model defines the core domain types for Takumi.
//
// Types correspond directly to the persisted documents: tool metadata
// records, flow specification files, and audit log entries. Types use
// strong typing (UUIDs, time.Time, enums) and avoid interface{} except
// where a value is genuinely caller-defined (tool params and results).
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal status of a single tool invocation.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// RunError carries a failed invocation's cause as data, not identity.
type RunError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RunEntry is one audit log record. The same shape serves both direct
// tool invocations (FlowRunID nil) and flow step invocations (FlowRunID
// and StepID set). A flow's terminal output record has an empty StepID.
// Entries are append-only and never mutated after write.
type RunEntry struct {
	RunID      uuid.UUID      `json:"run_id"`
	FlowRunID  *uuid.UUID     `json:"flow_run_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Status     RunStatus      `json:"status"`
	Error      *RunError      `json:"error,omitempty"`
	Result     string         `json:"result,omitempty"`
}

// ParamKind mirrors how a parameter may be supplied at the call site.
type ParamKind string

const (
	KindPositionalOrKeyword ParamKind = "positional-or-keyword"
	KindKeywordOnly         ParamKind = "keyword-only"
)

// ParamType is the closed annotation enumeration used by UI consumers
// to pick input widgets. Container types collapse to ParamTypeJSON;
// anything unrecognized collapses to ParamTypeAny.
type ParamType string

const (
	ParamTypeInt   ParamType = "int"
	ParamTypeFloat ParamType = "float"
	ParamTypeBool  ParamType = "bool"
	ParamTypeStr   ParamType = "str"
	ParamTypeJSON  ParamType = "json"
	ParamTypeAny   ParamType = "any"
)

// Param is one introspected parameter descriptor, in declaration order.
type Param struct {
	Name     string    `json:"name"`
	Kind     ParamKind `json:"kind"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
	Type     ParamType `json:"type"`
	Raw      string    `json:"raw,omitempty"`
}

// ToolMetadata is the introspected description of a registered tool.
type ToolMetadata struct {
	Name    string  `json:"name"`
	Doc     string  `json:"doc,omitempty"`
	Params  []Param `json:"parameters"`
	Returns string  `json:"returns,omitempty"`
}

// FlowStep invokes exactly one registered tool. Param values are either
// literals or placeholder strings ("$inputs.<key>" / "$ctx.<key>").
type FlowStep struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	SaveAs string         `json:"save_as,omitempty"`
}

// FlowSpec is a named, persisted, ordered sequence of tool invocations.
// Created or overwritten wholesale; never partially mutated.
type FlowSpec struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Inputs      []string   `json:"inputs,omitempty"`
	Steps       []FlowStep `json:"steps"`
	Output      any        `json:"output,omitempty"`
}

// MaxNameLen bounds tool and flow names. Names become file names, so the
// limit keeps them well under common filesystem caps.
const MaxNameLen = 128

// ValidateName checks that a tool or flow name is a legal identifier:
// a letter or underscore followed by letters, digits, or underscores.
// Names double as file stems and audit stream ids, so this also rules
// out path traversal.
func ValidateName(name string) error {
	if name == "" {
		return &ValidationError{Msg: "name must not be empty"}
	}
	if len(name) > MaxNameLen {
		return &ValidationError{Msg: fmt.Sprintf("name exceeds maximum length of %d characters", MaxNameLen)}
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return &ValidationError{Msg: fmt.Sprintf("name %q must not start with a digit", name)}
			}
		default:
			return &ValidationError{Msg: fmt.Sprintf("name %q contains invalid character %q", name, r)}
		}
	}
	return nil
}

// ValidateStructure checks flow well-formedness that does not depend on
// the tool registry: legal name, non-empty steps, unique non-empty step
// ids, a tool name on every step. Tool resolvability is the engine's job.
// Returns the first violation found.
func (s *FlowSpec) ValidateStructure() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return &ValidationError{Msg: fmt.Sprintf("flow %q has no steps", s.Name)}
	}
	seen := make(map[string]bool, len(s.Steps))
	for i, step := range s.Steps {
		if step.ID == "" {
			return &ValidationError{Msg: fmt.Sprintf("flow %q: step %d has an empty id", s.Name, i)}
		}
		if seen[step.ID] {
			return &ValidationError{Msg: fmt.Sprintf("flow %q: duplicate step id %q", s.Name, step.ID)}
		}
		seen[step.ID] = true
		if step.Tool == "" {
			return &ValidationError{Msg: fmt.Sprintf("flow %q: step %q names no tool", s.Name, step.ID)}
		}
	}
	return nil
}

// MaxResultSummary bounds the result snapshot stored in audit entries.
// Full results flow back to the caller; the log keeps a short preview.
const MaxResultSummary = 200

// Summarize renders a tool result as a bounded single-line JSON preview
// for audit entries.
func Summarize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unserializable %T>", v)
	}
	s := string(b)
	if len(s) > MaxResultSummary {
		s = s[:MaxResultSummary] + "..."
	}
	return s
}
