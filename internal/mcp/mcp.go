// Package mcp implements the Model Context Protocol server for Takumi.
//
// The MCP server exposes the same capabilities as the HTTP API through
// MCP resources and tools, allowing MCP-compatible AI agents to create,
// inspect, and run tools and flows.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/takumi/internal/flow"
	"github.com/ashita-ai/takumi/internal/generator"
	"github.com/ashita-ai/takumi/internal/registry"
)

// Server wraps the MCP server with Takumi's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	registry  *registry.Registry
	flows     *flow.Engine
	generator generator.Generator
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and
// tools. gen may be nil; takumi_create_tool then requires explicit
// source.
func New(reg *registry.Registry, flows *flow.Engine, gen generator.Generator, version string, logger *slog.Logger) *Server {
	s := &Server{
		registry:  reg,
		flows:     flows,
		generator: gen,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"takumi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// takumi://tools — every registered tool with its full signature.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"takumi://tools",
			"Registered Tools",
			mcplib.WithResourceDescription("Every registered tool with its name, docstring, and parameter signature"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleToolsResource,
	)

	// takumi://flows — every saved flow spec.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"takumi://flows",
			"Saved Flows",
			mcplib.WithResourceDescription("Every saved flow with its steps, required inputs, and output expression"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleFlowsResource,
	)
}

func (s *Server) handleToolsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	names := s.registry.List()
	tools := make([]any, 0, len(names))
	for _, name := range names {
		meta, err := s.registry.Describe(name)
		if err != nil {
			s.logger.Warn("mcp: describe during listing failed", "tool", name, "error", err)
			continue
		}
		tools = append(tools, meta)
	}

	data, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal tools: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "takumi://tools",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleFlowsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	names := s.flows.List()
	specs := make([]any, 0, len(names))
	for _, name := range names {
		spec, err := s.flows.Describe(name)
		if err != nil {
			s.logger.Warn("mcp: describe during listing failed", "flow", name, "error", err)
			continue
		}
		specs = append(specs, spec)
	}

	data, err := json.MarshalIndent(specs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal flows: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "takumi://flows",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
