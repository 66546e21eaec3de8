package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/takumi/internal/audit"
	"github.com/ashita-ai/takumi/internal/flow"
	"github.com/ashita-ai/takumi/internal/generator"
	"github.com/ashita-ai/takumi/internal/registry"
)

// Server is the Takumi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional (nil-safe): Generator, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Registry *registry.Registry
	Flows    *flow.Engine
	Audit    *audit.Log
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Generator generator.Generator
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		Flows:               cfg.Flows,
		Audit:               cfg.Audit,
		Generator:           cfg.Generator,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Tool catalog.
	mux.HandleFunc("POST /v1/tools", h.HandleCreateTool)
	mux.HandleFunc("GET /v1/tools", h.HandleListTools)
	mux.HandleFunc("GET /v1/tools/{name}", h.HandleDescribeTool)
	mux.HandleFunc("GET /v1/tools/{name}/source", h.HandleToolSource)
	mux.HandleFunc("DELETE /v1/tools/{name}", h.HandleRemoveTool)

	// Tool execution and history.
	mux.HandleFunc("POST /v1/tools/{name}/invoke", h.HandleInvokeTool)
	mux.HandleFunc("GET /v1/tools/{name}/runs", h.HandleToolRuns)

	// Flow catalog.
	mux.HandleFunc("POST /v1/flows", h.HandleSaveFlow)
	mux.HandleFunc("GET /v1/flows", h.HandleListFlows)
	mux.HandleFunc("GET /v1/flows/{name}", h.HandleDescribeFlow)
	mux.HandleFunc("DELETE /v1/flows/{name}", h.HandleDeleteFlow)

	// Flow execution and history.
	mux.HandleFunc("POST /v1/flows/{name}/run", h.HandleRunFlow)
	mux.HandleFunc("GET /v1/flows/{name}/runs", h.HandleFlowRuns)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no middleware concerns beyond the shared chain).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
