// Package takumi is the public API for embedding the Takumi tool
// registry and flow engine.
//
// Takumi stores dynamically created tools as source files, executes
// them in isolated interpreters, and chains them into persisted flows:
//
//	app, err := takumi.New(
//	    takumi.WithDataDir("data"),
//	    takumi.WithLogger(logger),
//	)
//	if err != nil { ... }
//	tool, err := app.CreateTool(ctx, "add_numbers", source, false)
//	result, err := app.UseTool(ctx, "add_numbers", map[string]any{"a": 2, "b": 3})
//
// Embedders that only need the library surface never call Run; Run is
// for hosting the HTTP and MCP transports.
//
// The import graph enforces a strict no-cycle rule: takumi (root)
// imports internal/*, but internal/* never imports takumi (root).
// Public types (Tool, Flow, Run, etc.) are standalone structs with no
// internal imports; conversion helpers live here because this is the
// only file that sees both sides of the boundary.
package takumi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/takumi/internal/audit"
	"github.com/ashita-ai/takumi/internal/config"
	"github.com/ashita-ai/takumi/internal/flow"
	"github.com/ashita-ai/takumi/internal/generator"
	"github.com/ashita-ai/takumi/internal/mcp"
	"github.com/ashita-ai/takumi/internal/model"
	"github.com/ashita-ai/takumi/internal/registry"
	"github.com/ashita-ai/takumi/internal/server"
	"github.com/ashita-ai/takumi/internal/telemetry"
)

// App is the Takumi lifecycle. Construct with New(); the library
// surface works immediately, Run() additionally hosts the transports.
// App has no public fields — use New() options to configure it.
type App struct {
	mu           sync.Mutex
	cfg          config.Config
	registry     *registry.Registry
	flows        *flow.Engine
	audit        *audit.Log
	gen          generator.Generator
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
	running      bool
}

// New initialises Takumi. It creates the storage directories, loads
// every persisted tool and flow, and returns a ready App. It does NOT
// start any goroutines or accept connections — call Run() for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, o)

	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("takumi starting", "version", version,
		"tools_dir", cfg.ToolsDir, "flows_dir", cfg.FlowsDir)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	aud, reg, eng, err := buildSubsystems(cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Generator: external override takes priority over config.
	var gen generator.Generator
	if o.generator != nil {
		gen = &generatorAdapter{g: o.generator}
	} else if cfg.GeneratorAPIKey != "" {
		gen = generator.NewClient(cfg.GeneratorBaseURL, cfg.GeneratorAPIKey, cfg.GeneratorModel)
		logger.Info("generator: enabled", "base_url", cfg.GeneratorBaseURL, "model", cfg.GeneratorModel)
	} else {
		logger.Info("generator: disabled (no API key)")
	}

	return &App{
		cfg:          cfg,
		registry:     reg,
		flows:        eng,
		audit:        aud,
		gen:          gen,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// buildSubsystems wires the storage-backed subsystems for a directory
// layout. Shared by New and Reconfigure.
func buildSubsystems(cfg config.Config, logger *slog.Logger) (*audit.Log, *registry.Registry, *flow.Engine, error) {
	aud, err := audit.New(cfg.LogsDir, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("audit: %w", err)
	}
	reg, err := registry.New(cfg.ToolsDir, aud, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("registry: %w", err)
	}
	eng, err := flow.New(cfg.FlowsDir, reg, aud, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("flow: %w", err)
	}
	return aud, reg, eng, nil
}

// applyOverrides layers option values over env-derived config. A bare
// WithDataDir moves the default subdirectory layout with it unless the
// specific directory was also overridden.
func applyOverrides(cfg *config.Config, o resolvedOptions) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.dataDir != "" {
		layout := config.DirLayout(o.dataDir)
		cfg.DataDir = layout.DataDir
		cfg.ToolsDir = layout.ToolsDir
		cfg.FlowsDir = layout.FlowsDir
		cfg.LogsDir = layout.LogsDir
	}
	if o.toolsDir != "" {
		cfg.ToolsDir = o.toolsDir
	}
	if o.flowsDir != "" {
		cfg.FlowsDir = o.flowsDir
	}
	if o.logsDir != "" {
		cfg.LogsDir = o.logsDir
	}
}

// Reconfigure re-points the App at a different storage layout, closing
// over the same logger and generator. Tools and flows already persisted
// under the new directories are loaded; the previous directories are
// left untouched. Not allowed while Run is serving.
func (a *App) Reconfigure(opts ...Option) error {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("takumi: cannot reconfigure while serving")
	}

	cfg := a.cfg
	applyOverrides(&cfg, o)
	if err := cfg.Validate(); err != nil {
		return err
	}

	aud, reg, eng, err := buildSubsystems(cfg, a.logger)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.audit = aud
	a.registry = reg
	a.flows = eng
	a.logger.Info("takumi reconfigured",
		"tools_dir", cfg.ToolsDir, "flows_dir", cfg.FlowsDir, "logs_dir", cfg.LogsDir)
	return nil
}

// ── Tool facade ────────────────────────────────────────────────────────────────

// CreateTool registers a tool from explicit source. The source must
// define a single function whose name matches. With overwrite false a
// duplicate name fails; with overwrite true the prior tool is replaced.
func (a *App) CreateTool(ctx context.Context, name, source string, overwrite bool) (Tool, error) {
	meta, err := a.registry.Register(name, source, overwrite)
	if err != nil {
		return Tool{}, err
	}
	return toPublicTool(meta), nil
}

// GenerateTool synthesizes a tool's source from a description and
// registers it. Requires a configured generator.
func (a *App) GenerateTool(ctx context.Context, name, description string, overwrite bool) (Tool, error) {
	if a.gen == nil {
		return Tool{}, errors.New("takumi: no generator configured")
	}
	source, err := a.gen.Generate(ctx, name, description)
	if err != nil {
		return Tool{}, fmt.Errorf("generate tool %q: %w", name, err)
	}
	meta, err := a.registry.Register(name, source, overwrite)
	if err != nil {
		return Tool{}, err
	}
	return toPublicTool(meta), nil
}

// ListTools returns registered tool names in first-registration order.
func (a *App) ListTools() []string {
	return a.registry.List()
}

// DescribeTool returns a tool's docstring and parameter signature.
func (a *App) DescribeTool(name string) (Tool, error) {
	meta, err := a.registry.Describe(name)
	if err != nil {
		return Tool{}, err
	}
	return toPublicTool(meta), nil
}

// ToolSource returns the tool's source text as stored on disk.
func (a *App) ToolSource(name string) (string, error) {
	return a.registry.Source(name)
}

// RemoveTool deletes the tool and its source file. The tool's run
// history is kept.
func (a *App) RemoveTool(name string) error {
	return a.registry.Remove(name)
}

// UseTool invokes a registered tool with keyword parameters and returns
// its result. Every invocation, successful or not, is recorded in the
// tool's run log.
func (a *App) UseTool(ctx context.Context, name string, params map[string]any) (any, error) {
	return a.registry.Invoke(ctx, name, params)
}

// ToolRuns returns the tool's most recent run records, newest first.
// limit <= 0 returns all.
func (a *App) ToolRuns(name string, limit int) ([]Run, error) {
	if _, err := a.registry.Describe(name); err != nil {
		return nil, err
	}
	entries, err := a.audit.Tail(name, limit)
	if err != nil {
		return nil, err
	}
	return toPublicRuns(entries), nil
}

// ── Flow facade ────────────────────────────────────────────────────────────────

// CreateFlow validates and persists a flow, replacing any prior flow of
// the same name. Every referenced tool must already be registered.
func (a *App) CreateFlow(f Flow) error {
	return a.flows.Save(fromPublicFlow(f))
}

// ListFlows returns saved flow names in first-save order.
func (a *App) ListFlows() []string {
	return a.flows.List()
}

// DescribeFlow returns the stored flow spec.
func (a *App) DescribeFlow(name string) (Flow, error) {
	spec, err := a.flows.Describe(name)
	if err != nil {
		return Flow{}, err
	}
	return toPublicFlow(spec), nil
}

// DeleteFlow removes the flow. Its run history is kept.
func (a *App) DeleteFlow(name string) error {
	return a.flows.Delete(name)
}

// RunFlow executes the named flow with the given inputs and returns its
// resolved output.
func (a *App) RunFlow(ctx context.Context, name string, inputs map[string]any) (any, error) {
	return a.flows.Run(ctx, name, inputs)
}

// FlowRuns returns the flow's most recent run records, newest first.
// limit <= 0 returns all.
func (a *App) FlowRuns(name string, limit int) ([]Run, error) {
	entries, err := a.flows.Runs(name, limit)
	if err != nil {
		return nil, err
	}
	return toPublicRuns(entries), nil
}

// ── Serving ────────────────────────────────────────────────────────────────────

// Run hosts the HTTP API and the MCP StreamableHTTP transport, blocking
// until ctx is cancelled or a fatal server error occurs. Shutdown is
// performed automatically on return.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("takumi: already running")
	}
	a.running = true

	mcpSrv := mcp.New(a.registry, a.flows, a.gen, a.version, a.logger)

	srv := server.New(server.ServerConfig{
		Registry:            a.registry,
		Flows:               a.flows,
		Audit:               a.audit,
		Generator:           a.gen,
		Logger:              a.logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                a.cfg.Port,
		ReadTimeout:         a.cfg.ReadTimeout,
		WriteTimeout:        a.cfg.WriteTimeout,
		Version:             a.version,
		MaxRequestBodyBytes: a.cfg.MaxRequestBodyBytes,
	})
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.finish()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.finish()
	return err
}

// finish releases the running flag and flushes telemetry.
func (a *App) finish() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	_ = a.otelShutdown(context.Background())
	a.logger.Info("takumi stopped")
}

// Close flushes telemetry for library-only consumers that never call
// Run.
func (a *App) Close() error {
	return a.otelShutdown(context.Background())
}

// ── Adapters ───────────────────────────────────────────────────────────────────

// generatorAdapter wraps a public takumi.Generator to satisfy the
// internal generator.Generator interface.
type generatorAdapter struct {
	g Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, name, description string) (string, error) {
	return a.g.Generate(ctx, name, description)
}

// ── Type converters ────────────────────────────────────────────────────────────

func toPublicTool(m model.ToolMetadata) Tool {
	params := make([]Param, len(m.Params))
	for i, p := range m.Params {
		params[i] = Param{
			Name:     p.Name,
			Required: p.Required,
			Default:  p.Default,
			Type:     string(p.Type),
			KwOnly:   p.Kind == model.KindKeywordOnly,
		}
	}
	return Tool{Name: m.Name, Doc: m.Doc, Params: params}
}

func toPublicFlow(s model.FlowSpec) Flow {
	steps := make([]FlowStep, len(s.Steps))
	for i, st := range s.Steps {
		steps[i] = FlowStep{ID: st.ID, Tool: st.Tool, Params: st.Params, SaveAs: st.SaveAs}
	}
	return Flow{
		Name:        s.Name,
		Description: s.Description,
		Inputs:      s.Inputs,
		Steps:       steps,
		Output:      s.Output,
	}
}

func fromPublicFlow(f Flow) model.FlowSpec {
	steps := make([]model.FlowStep, len(f.Steps))
	for i, st := range f.Steps {
		steps[i] = model.FlowStep{ID: st.ID, Tool: st.Tool, Params: st.Params, SaveAs: st.SaveAs}
	}
	return model.FlowSpec{
		Name:        f.Name,
		Description: f.Description,
		Inputs:      f.Inputs,
		Steps:       steps,
		Output:      f.Output,
	}
}

func toPublicRuns(entries []model.RunEntry) []Run {
	out := make([]Run, len(entries))
	for i, e := range entries {
		r := Run{
			RunID:      e.RunID,
			FlowRunID:  e.FlowRunID,
			StepID:     e.StepID,
			Tool:       e.Tool,
			Params:     e.Params,
			StartedAt:  e.StartedAt,
			FinishedAt: e.FinishedAt,
			Status:     string(e.Status),
			Result:     e.Result,
		}
		if e.Error != nil {
			r.ErrorType = e.Error.Type
			r.ErrorMessage = e.Error.Message
		}
		out[i] = r
	}
	return out
}
