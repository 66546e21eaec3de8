package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/takumi/internal/model"
)

func (s *Server) registerTools() {
	// takumi_create_tool — register a new tool, written or generated.
	s.mcpServer.AddTool(
		mcplib.NewTool("takumi_create_tool",
			mcplib.WithDescription(`Register a new tool in the registry.

Provide either explicit Starlark source (a single top-level function
whose name matches the tool name) or a natural-language description to
have the source generated for you.

Tool functions use Python-like syntax. Parameter defaults become the
tool's optional parameters; parameters without defaults are required.
A leading docstring becomes the tool's description.

EXAMPLE SOURCE:
    def add_numbers(a, b=0):
        """Add two numbers."""
        return a + b`),
			mcplib.WithString("name",
				mcplib.Description("Tool name. Must be a valid identifier and match the function name in the source."),
				mcplib.Required(),
			),
			mcplib.WithString("source",
				mcplib.Description("Starlark source defining the tool function. Omit to generate from description."),
			),
			mcplib.WithString("description",
				mcplib.Description("What the tool should do, in plain language. Used to generate source when source is omitted."),
			),
			mcplib.WithBoolean("overwrite",
				mcplib.Description("Replace an existing tool of the same name instead of failing."),
			),
		),
		s.handleCreateTool,
	)

	// takumi_describe_tool — inspect a tool's signature before calling it.
	s.mcpServer.AddTool(
		mcplib.NewTool("takumi_describe_tool",
			mcplib.WithDescription(`Describe a registered tool: its docstring and full parameter signature.

Call this before takumi_use_tool when you are unsure of a tool's
parameters. Each parameter reports its name, whether it is required,
its default value, and its inferred type.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("name",
				mcplib.Description("Tool name to describe"),
				mcplib.Required(),
			),
		),
		s.handleDescribeTool,
	)

	// takumi_use_tool — invoke a registered tool.
	s.mcpServer.AddTool(
		mcplib.NewTool("takumi_use_tool",
			mcplib.WithDescription(`Invoke a registered tool by name with keyword parameters.

Parameters are passed as a JSON object keyed by parameter name. Missing
optional parameters take their declared defaults. The invocation is
recorded in the tool's run log either way: success with a result
preview, or failure with the error type and message.`),
			mcplib.WithString("name",
				mcplib.Description("Tool name to invoke"),
				mcplib.Required(),
			),
			mcplib.WithString("params",
				mcplib.Description(`Keyword parameters as a JSON object, e.g. {"a": 2, "b": 3}. Omit for no parameters.`),
			),
		),
		s.handleUseTool,
	)

	// takumi_save_flow — persist a multi-step flow.
	s.mcpServer.AddTool(
		mcplib.NewTool("takumi_save_flow",
			mcplib.WithDescription(`Save a flow: a named sequence of tool invocations executed in order.

The spec is a JSON object:
    {
      "name": "add_then_subtract",
      "inputs": ["x", "y", "z"],
      "steps": [
        {"id": "s1", "tool": "add_numbers",
         "params": {"a": "$inputs.x", "b": "$inputs.y"}},
        {"id": "s2", "tool": "subtract_numbers",
         "params": {"a": "$ctx.s1", "b": "$inputs.z"}}
      ],
      "output": "$ctx.s2"
    }

A param value that is exactly "$inputs.<key>" or "$ctx.<key>" is
substituted at run time; "$ctx" keys are earlier step results (saved
under the step id, or its save_as alias). Every referenced tool must
already exist. Saving under an existing name replaces the flow.`),
			mcplib.WithString("spec",
				mcplib.Description("The flow spec as a JSON object"),
				mcplib.Required(),
			),
		),
		s.handleSaveFlow,
	)

	// takumi_run_flow — execute a saved flow.
	s.mcpServer.AddTool(
		mcplib.NewTool("takumi_run_flow",
			mcplib.WithDescription(`Run a saved flow with the given inputs and return its output.

All of the flow's declared inputs must be provided. Steps run strictly
in order and the first failure stops the run; every executed step is
recorded in the flow's run log.`),
			mcplib.WithString("name",
				mcplib.Description("Flow name to run"),
				mcplib.Required(),
			),
			mcplib.WithString("inputs",
				mcplib.Description(`Flow inputs as a JSON object keyed by input name, e.g. {"x": 2, "y": 3}.`),
			),
		),
		s.handleRunFlow,
	)
}

func (s *Server) handleCreateTool(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	source := request.GetString("source", "")
	description := request.GetString("description", "")
	overwrite := request.GetBool("overwrite", false)

	if name == "" {
		return errorResult("name is required"), nil
	}
	if source == "" {
		if description == "" {
			return errorResult("either source or description is required"), nil
		}
		if s.generator == nil {
			return errorResult("tool generation is not configured; provide source"), nil
		}
		generated, err := s.generator.Generate(ctx, name, description)
		if err != nil {
			return errorResult(fmt.Sprintf("tool generation failed: %v", err)), nil
		}
		source = generated
	}

	meta, err := s.registry.Register(name, source, overwrite)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(meta)
}

func (s *Server) handleDescribeTool(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}

	meta, err := s.registry.Describe(name)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(meta)
}

func (s *Server) handleUseTool(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}

	params, err := decodeObject(request.GetString("params", ""))
	if err != nil {
		return errorResult("params must be a JSON object: " + err.Error()), nil
	}

	result, err := s.registry.Invoke(ctx, name, params)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{"result": result})
}

func (s *Server) handleSaveFlow(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("spec", "")
	if raw == "" {
		return errorResult("spec is required"), nil
	}

	var spec model.FlowSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return errorResult("spec must be a JSON object: " + err.Error()), nil
	}

	if err := s.flows.Save(spec); err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{"name": spec.Name, "steps": len(spec.Steps), "status": "saved"})
}

func (s *Server) handleRunFlow(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}

	inputs, err := decodeObject(request.GetString("inputs", ""))
	if err != nil {
		return errorResult("inputs must be a JSON object: " + err.Error()), nil
	}

	out, err := s.flows.Run(ctx, name, inputs)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{"output": out})
}

// decodeObject parses a JSON object argument; empty means no entries.
func decodeObject(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
