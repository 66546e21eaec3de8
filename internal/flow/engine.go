// Package flow persists flow specifications and executes them
// deterministically against the tool registry.
//
// A flow is a named, ordered sequence of tool invocations with data
// passed between steps through an accumulating context. Execution is
// strictly sequential in declared order with fail-fast semantics: the
// first unresolved placeholder or failing tool stops the run, and no
// later step executes or logs anything.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/takumi/internal/audit"
	"github.com/ashita-ai/takumi/internal/fsutil"
	"github.com/ashita-ai/takumi/internal/model"
	"github.com/ashita-ai/takumi/internal/registry"
)

const specExt = ".json"

// Engine owns the flow catalog.
type Engine struct {
	dir    string
	reg    *registry.Registry
	audit  *audit.Log
	logger *slog.Logger

	mu    sync.RWMutex
	flows map[string]*model.FlowSpec
	order []string // first-save order, matching the registry's listing policy
}

// New creates the flows directory if needed and loads every spec
// already present (sorted file name order seeds the listing order).
func New(dir string, reg *registry.Registry, aud *audit.Log, logger *slog.Logger) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flow: create flows dir: %w", err)
	}
	e := &Engine{
		dir:    dir,
		reg:    reg,
		audit:  aud,
		logger: logger,
		flows:  make(map[string]*model.FlowSpec),
	}
	if err := e.loadDir(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadDir() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("flow: read flows dir: %w", err)
	}
	var names []string
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), specExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(de.Name(), specExt))
	}
	sort.Strings(names)

	for _, name := range names {
		spec, err := e.read(name)
		if err != nil {
			e.logger.Warn("flow: skipping unreadable spec", "name", name, "error", err)
			continue
		}
		e.flows[name] = spec
		e.order = append(e.order, name)
		e.logger.Info("flow: loaded spec", "name", name, "steps", len(spec.Steps))
	}
	return nil
}

func (e *Engine) read(name string) (*model.FlowSpec, error) {
	data, err := os.ReadFile(e.specPath(name))
	if err != nil {
		return nil, err
	}
	var spec model.FlowSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("flow: decode spec %q: %w", name, err)
	}
	if spec.Name != name {
		return nil, fmt.Errorf("flow: spec file %q declares name %q", name, spec.Name)
	}
	return &spec, nil
}

// Save validates the spec and persists it, replacing any prior spec
// under the same name wholesale. Validation fails fast with a
// ValidationError describing the first violation: structural
// well-formedness first, then resolvability of every referenced tool.
func (e *Engine) Save(spec model.FlowSpec) error {
	if err := spec.ValidateStructure(); err != nil {
		return err
	}
	for _, step := range spec.Steps {
		if _, err := e.reg.Describe(step.Tool); err != nil {
			if _, notFound := err.(*model.NotFoundError); notFound {
				return model.Validationf("flow %q: step %q references unknown tool %q", spec.Name, step.ID, step.Tool)
			}
			return fmt.Errorf("flow: resolve tool %q: %w", step.Tool, err)
		}
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("flow: encode spec %q: %w", spec.Name, err)
	}
	if err := fsutil.WriteFileAtomic(e.specPath(spec.Name), data, 0o644); err != nil {
		return fmt.Errorf("flow: persist spec %q: %w", spec.Name, err)
	}

	e.mu.Lock()
	if _, known := e.flows[spec.Name]; !known {
		e.order = append(e.order, spec.Name)
	}
	e.flows[spec.Name] = &spec
	e.mu.Unlock()

	e.logger.Info("flow: saved spec", "name", spec.Name, "steps", len(spec.Steps))
	return nil
}

// List returns flow names in first-save order.
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Describe returns the stored spec.
func (e *Engine) Describe(name string) (model.FlowSpec, error) {
	spec, err := e.get(name)
	if err != nil {
		return model.FlowSpec{}, err
	}
	return *spec, nil
}

// Delete removes the spec file and catalog entry together. The flow's
// audit stream is kept — run history outlives the flow.
func (e *Engine) Delete(name string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, known := e.flows[name]
	err := os.Remove(e.specPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("flow: remove spec %q: %w", name, err)
	}
	if !known && os.IsNotExist(err) {
		return &model.NotFoundError{Kind: "flow", Name: name}
	}

	delete(e.flows, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.logger.Info("flow: deleted spec", "name", name)
	return nil
}

// get serves the cached spec, falling back to a lazy disk load for
// specs written by an earlier process.
func (e *Engine) get(name string) (*model.FlowSpec, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}

	e.mu.RLock()
	spec := e.flows[name]
	e.mu.RUnlock()
	if spec != nil {
		return spec, nil
	}

	spec, err := e.read(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &model.NotFoundError{Kind: "flow", Name: name}
		}
		return nil, err
	}

	e.mu.Lock()
	if _, known := e.flows[name]; !known {
		e.order = append(e.order, name)
	}
	e.flows[name] = spec
	e.mu.Unlock()
	return spec, nil
}

// Run executes the named flow against the given external inputs and
// returns the resolved output expression.
//
// Required inputs are verified before any step executes and before any
// log entry is written. Steps then run strictly sequentially: params
// are resolved against inputs and the accumulating context, the tool is
// invoked through the registry (which writes the flow-stream audit
// entry), and the result lands in the context under save_as (default:
// the step id; a repeated alias is last-writer-wins). The first
// unresolved placeholder or tool failure aborts the whole run.
func (e *Engine) Run(ctx context.Context, name string, inputs map[string]any) (any, error) {
	spec, err := e.get(name)
	if err != nil {
		return nil, err
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	for _, required := range spec.Inputs {
		if _, ok := inputs[required]; !ok {
			return nil, model.Validationf("flow %q: missing required input %q", name, required)
		}
	}

	flowRunID := uuid.New()
	started := time.Now().UTC()
	runCtx := make(map[string]any, len(spec.Steps))

	e.logger.Info("flow: run started", "flow", name, "flow_run_id", flowRunID, "steps", len(spec.Steps))

	for _, step := range spec.Steps {
		params, err := resolveParams(step.Params, inputs, runCtx, step.ID)
		if err != nil {
			// Unresolved reference: no tool invocation, no log entry for
			// this step, whole run stops.
			e.logger.Warn("flow: run aborted", "flow", name, "flow_run_id", flowRunID, "step_id", step.ID, "error", err)
			return nil, err
		}

		result, err := e.reg.InvokeStep(ctx, name, flowRunID, step.ID, step.Tool, params)
		if err != nil {
			e.logger.Warn("flow: run aborted", "flow", name, "flow_run_id", flowRunID, "step_id", step.ID, "error", err)
			return nil, err
		}

		saveAs := step.SaveAs
		if saveAs == "" {
			saveAs = step.ID
		}
		runCtx[saveAs] = result
	}

	out, err := resolveValue(spec.Output, inputs, runCtx, "")
	if err != nil {
		e.logger.Warn("flow: run aborted resolving output", "flow", name, "flow_run_id", flowRunID, "error", err)
		return nil, err
	}

	// Terminal record: no step id, summarizes the flow's overall output.
	terminal := model.RunEntry{
		RunID:      uuid.New(),
		FlowRunID:  &flowRunID,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Status:     model.RunStatusSuccess,
		Result:     model.Summarize(out),
	}
	if err := e.audit.Append(audit.FlowStreamPrefix+name, terminal); err != nil {
		e.logger.Error("flow: audit append failed", "flow", name, "error", err)
	}

	e.logger.Info("flow: run finished", "flow", name, "flow_run_id", flowRunID)
	return out, nil
}

// Runs returns the most recent limit entries from the flow's stream,
// newest first; limit <= 0 returns all.
func (e *Engine) Runs(name string, limit int) ([]model.RunEntry, error) {
	if _, err := e.get(name); err != nil {
		return nil, err
	}
	return e.audit.Tail(audit.FlowStreamPrefix+name, limit)
}

func (e *Engine) specPath(name string) string {
	return filepath.Join(e.dir, name+specExt)
}
