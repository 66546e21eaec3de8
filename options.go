package takumi

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port      int
	dataDir   string
	toolsDir  string
	flowsDir  string
	logsDir   string
	logger    *slog.Logger
	version   string
	generator Generator
}

// WithPort overrides the TCP port from config (TAKUMI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDataDir overrides the data root from config (TAKUMI_DATA_DIR env
// var). Tools, flows, and logs move to subdirectories of the new root
// unless their own options are also set.
func WithDataDir(dir string) Option {
	return func(o *resolvedOptions) { o.dataDir = dir }
}

// WithToolsDir overrides the tool source directory (TAKUMI_TOOLS_DIR env var).
func WithToolsDir(dir string) Option {
	return func(o *resolvedOptions) { o.toolsDir = dir }
}

// WithFlowsDir overrides the flow spec directory (TAKUMI_FLOWS_DIR env var).
func WithFlowsDir(dir string) Option {
	return func(o *resolvedOptions) { o.flowsDir = dir }
}

// WithLogsDir overrides the run log directory (TAKUMI_LOGS_DIR env var).
func WithLogsDir(dir string) Option {
	return func(o *resolvedOptions) { o.logsDir = dir }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithGenerator replaces the built-in OpenAI-compatible tool generator.
// The provided implementation must satisfy the Generator interface.
func WithGenerator(g Generator) Option {
	return func(o *resolvedOptions) { o.generator = g }
}
