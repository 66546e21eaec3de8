// Package registry is the single source of truth mapping a tool name to
// an executable unit plus its introspected metadata.
//
// Tool source lives on disk, one Starlark file per tool. The in-memory
// record caches the compiled callable and its metadata; every access
// re-checks the file's modification time (one stat, no reparse) and
// transparently rebuilds the record when the source has drifted.
// Records are replaced wholesale on reload so a concurrent reader never
// observes a partially updated record.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashita-ai/takumi/internal/audit"
	"github.com/ashita-ai/takumi/internal/fsutil"
	"github.com/ashita-ai/takumi/internal/model"
)

const sourceExt = ".star"

var tracer = otel.Tracer("takumi/registry")

// record is one registered tool. Immutable after construction — reloads
// build a fresh record and swap it in under the registry lock.
type record struct {
	meta   model.ToolMetadata
	fn     callable
	srcMod time.Time // source mtime observed at load
}

// Registry owns the catalog of callable tools.
type Registry struct {
	dir    string
	audit  *audit.Log
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]*record
	order []string // first-registration order, for deterministic listings
}

// New creates the tools directory if needed and loads every tool source
// already present (sorted by file name, which seeds the listing order
// deterministically across restarts).
func New(dir string, aud *audit.Log, logger *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create tools dir: %w", err)
	}
	r := &Registry{
		dir:    dir,
		audit:  aud,
		logger: logger,
		tools:  make(map[string]*record),
	}
	if err := r.loadDir(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadDir() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("registry: read tools dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sourceExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), sourceExt))
	}
	sort.Strings(names)

	for _, name := range names {
		if err := model.ValidateName(name); err != nil {
			r.logger.Warn("registry: skipping tool with invalid name", "name", name, "error", err)
			continue
		}
		rec, err := r.build(name)
		if err != nil {
			// A broken source file must not take the whole registry down;
			// the tool simply stays unavailable until re-registered.
			r.logger.Warn("registry: failed to load tool", "name", name, "error", err)
			continue
		}
		r.tools[name] = rec
		r.order = append(r.order, name)
		r.logger.Info("registry: loaded tool", "name", name)
	}
	return nil
}

// Register validates, persists, compiles, and installs a tool. With
// overwrite false a taken name fails with ValidationError; with
// overwrite true the prior record is replaced wholesale.
func (r *Registry) Register(name, source string, overwrite bool) (model.ToolMetadata, error) {
	if err := model.ValidateName(name); err != nil {
		return model.ToolMetadata{}, err
	}

	if !overwrite {
		r.mu.RLock()
		_, taken := r.tools[name]
		r.mu.RUnlock()
		if !taken {
			_, statErr := os.Stat(r.sourcePath(name))
			taken = statErr == nil
		}
		if taken {
			return model.ToolMetadata{}, model.Validationf("tool %q is already registered", name)
		}
	}

	// Compile before persisting so a rejected source never lands on disk.
	if _, _, err := compile(name, source, r.logger); err != nil {
		return model.ToolMetadata{}, err
	}

	if err := fsutil.WriteFileAtomic(r.sourcePath(name), []byte(source), 0o644); err != nil {
		return model.ToolMetadata{}, fmt.Errorf("registry: persist tool %q: %w", name, err)
	}

	rec, err := r.build(name)
	if err != nil {
		return model.ToolMetadata{}, err
	}

	r.mu.Lock()
	if _, known := r.tools[name]; !known {
		r.order = append(r.order, name)
	}
	r.tools[name] = rec
	r.mu.Unlock()

	r.logger.Info("registry: registered tool", "name", name, "params", len(rec.meta.Params))
	return rec.meta, nil
}

// build reads the tool's source from disk and compiles a fresh record.
func (r *Registry) build(name string) (*record, error) {
	path := r.sourcePath(name)
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &model.NotFoundError{Kind: "tool", Name: name}
		}
		return nil, fmt.Errorf("registry: read tool %q: %w", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("registry: stat tool %q: %w", name, err)
	}

	fn, meta, err := compile(name, string(src), r.logger)
	if err != nil {
		return nil, err
	}
	return &record{
		meta:   meta,
		fn:     fn,
		srcMod: info.ModTime(),
	}, nil
}

// get returns the current record for name, rebuilding it when the
// on-disk source is newer than the cached copy. The staleness check is
// one stat per access; a full reparse happens only on detected drift.
// A name with a source file but no in-memory record loads lazily, which
// covers tools registered by an earlier process.
func (r *Registry) get(name string) (*record, error) {
	r.mu.RLock()
	rec := r.tools[name]
	r.mu.RUnlock()

	info, statErr := os.Stat(r.sourcePath(name))
	if statErr != nil {
		if rec != nil {
			// Source vanished out from under us; keep serving the cached
			// callable. Source() reports the truth about the file itself.
			return rec, nil
		}
		return nil, &model.NotFoundError{Kind: "tool", Name: name}
	}

	if rec != nil && !info.ModTime().After(rec.srcMod) {
		return rec, nil // cache hit
	}

	if rec != nil {
		r.logger.Info("registry: tool source changed, reloading", "name", name)
	}
	fresh, err := r.build(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, known := r.tools[name]; !known {
		r.order = append(r.order, name)
	}
	r.tools[name] = fresh
	r.mu.Unlock()
	return fresh, nil
}

// Describe returns the introspected metadata for a tool.
func (r *Registry) Describe(name string) (model.ToolMetadata, error) {
	rec, err := r.get(name)
	if err != nil {
		return model.ToolMetadata{}, err
	}
	return rec.meta, nil
}

// Source returns the tool's source text, always read from disk so it
// reflects the true current file even when the cached record is stale.
func (r *Registry) Source(name string) (string, error) {
	if err := model.ValidateName(name); err != nil {
		return "", err
	}
	src, err := os.ReadFile(r.sourcePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", &model.NotFoundError{Kind: "tool", Name: name}
		}
		return "", fmt.Errorf("registry: read tool %q: %w", name, err)
	}
	return string(src), nil
}

// List returns tool names in first-registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Remove deletes the tool's source file and in-memory record together.
// The audit stream is kept — history outlives the tool.
func (r *Registry) Remove(name string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.tools[name]
	err := os.Remove(r.sourcePath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("registry: remove tool %q: %w", name, err)
	}
	if !known && os.IsNotExist(err) {
		return &model.NotFoundError{Kind: "tool", Name: name}
	}

	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("registry: removed tool", "name", name)
	return nil
}

// Invoke resolves the tool, calls it with params as keyword arguments,
// and appends a run entry to the tool's own audit stream regardless of
// outcome. A tool failure is propagated as an ExecutionError wrapping
// the cause.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	return r.invoke(ctx, name, params, name, nil, "")
}

// InvokeStep is Invoke on behalf of a flow run: the entry lands in the
// flow's stream tagged with the flow run id and step id, and any
// ExecutionError identifies the failing step.
func (r *Registry) InvokeStep(ctx context.Context, flowName string, flowRunID uuid.UUID, stepID, name string, params map[string]any) (any, error) {
	return r.invoke(ctx, name, params, audit.FlowStreamPrefix+flowName, &flowRunID, stepID)
}

func (r *Registry) invoke(ctx context.Context, name string, params map[string]any, stream string, flowRunID *uuid.UUID, stepID string) (any, error) {
	ctx, span := tracer.Start(ctx, "tool.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("takumi.tool", name))

	entry := model.RunEntry{
		RunID:     uuid.New(),
		FlowRunID: flowRunID,
		StepID:    stepID,
		Tool:      name,
		Params:    params,
		StartedAt: time.Now().UTC(),
	}

	result, invokeErr := r.call(ctx, name, params)
	entry.FinishedAt = time.Now().UTC()

	if invokeErr != nil {
		entry.Status = model.RunStatusError
		if execErr, ok := invokeErr.(*model.ExecutionError); ok {
			execErr.StepID = stepID
			entry.Error = &model.RunError{Type: execErr.ErrType, Message: execErr.Message}
		} else {
			entry.Error = &model.RunError{Type: errTypeName(invokeErr), Message: invokeErr.Error()}
		}
	} else {
		entry.Status = model.RunStatusSuccess
		entry.Result = model.Summarize(result)
	}

	if err := r.audit.Append(stream, entry); err != nil {
		// The invocation outcome still stands; losing an audit record is
		// logged loudly but not surfaced to the caller.
		r.logger.Error("registry: audit append failed", "stream", stream, "tool", name, "error", err)
	}

	if invokeErr != nil {
		r.logger.Warn("registry: tool failed", "tool", name, "step_id", stepID, "error", invokeErr)
		return nil, invokeErr
	}
	return result, nil
}

// call resolves and executes the tool without touching the audit log.
func (r *Registry) call(ctx context.Context, name string, params map[string]any) (any, error) {
	rec, err := r.get(name)
	if err != nil {
		return nil, err
	}
	result, err := rec.fn(ctx, params)
	if err != nil {
		if _, isValidation := err.(*model.ValidationError); isValidation {
			return nil, err
		}
		return nil, &model.ExecutionError{
			Tool:    name,
			ErrType: errTypeName(err),
			Message: errMessage(err),
			Err:     err,
		}
	}
	return result, nil
}

func (r *Registry) sourcePath(name string) string {
	return filepath.Join(r.dir, name+sourceExt)
}
