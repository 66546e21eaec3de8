package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/takumi/internal/audit"
	"github.com/ashita-ai/takumi/internal/flow"
	"github.com/ashita-ai/takumi/internal/generator"
	"github.com/ashita-ai/takumi/internal/registry"
	"github.com/ashita-ai/takumi/internal/testutil"
)

func newTestMCP(t *testing.T, gen generator.Generator) *Server {
	t.Helper()
	dir := t.TempDir()
	logger := testutil.TestLogger()

	aud, err := audit.New(filepath.Join(dir, "logs"), logger)
	require.NoError(t, err)
	reg, err := registry.New(filepath.Join(dir, "tools"), aud, logger)
	require.NoError(t, err)
	eng, err := flow.New(filepath.Join(dir, "flows"), reg, aud, logger)
	require.NoError(t, err)

	return New(reg, eng, gen, "test", logger)
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "content is %T", result.Content[0])
	return text.Text
}

func TestCreateAndUseTool(t *testing.T) {
	s := newTestMCP(t, nil)
	ctx := context.Background()

	result, err := s.handleCreateTool(ctx, callRequest("takumi_create_tool", map[string]any{
		"name":   "add_numbers",
		"source": testutil.AddSource,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var meta struct {
		Name string `json:"name"`
		Doc  string `json:"doc"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &meta))
	assert.Equal(t, "add_numbers", meta.Name)
	assert.Equal(t, "Add two numbers.", meta.Doc)

	result, err = s.handleUseTool(ctx, callRequest("takumi_use_tool", map[string]any{
		"name":   "add_numbers",
		"params": `{"a": 2, "b": 3}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Result any `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.EqualValues(t, 5, out.Result)
}

func TestCreateToolGenerated(t *testing.T) {
	gen := generator.Static{"shout": "def shout(s):\n    \"\"\"Upcase a string.\"\"\"\n    return s.upper()\n"}
	s := newTestMCP(t, gen)

	result, err := s.handleCreateTool(context.Background(), callRequest("takumi_create_tool", map[string]any{
		"name":        "shout",
		"description": "upcase a string",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, resultText(t, result))
}

func TestCreateToolErrors(t *testing.T) {
	s := newTestMCP(t, nil)
	ctx := context.Background()

	result, err := s.handleCreateTool(ctx, callRequest("takumi_create_tool", map[string]any{
		"name": "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "source or description")

	// Description without a configured generator.
	result, err = s.handleCreateTool(ctx, callRequest("takumi_create_tool", map[string]any{
		"name": "x", "description": "do things",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not configured")
}

func TestDescribeTool(t *testing.T) {
	s := newTestMCP(t, nil)
	ctx := context.Background()

	_, err := s.registry.Register("add_numbers", testutil.AddSource, false)
	require.NoError(t, err)

	result, err := s.handleDescribeTool(ctx, callRequest("takumi_describe_tool", map[string]any{
		"name": "add_numbers",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Add two numbers.")

	result, err = s.handleDescribeTool(ctx, callRequest("takumi_describe_tool", map[string]any{
		"name": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestUseToolBadParams(t *testing.T) {
	s := newTestMCP(t, nil)

	_, err := s.registry.Register("add_numbers", testutil.AddSource, false)
	require.NoError(t, err)

	result, err := s.handleUseTool(context.Background(), callRequest("takumi_use_tool", map[string]any{
		"name":   "add_numbers",
		"params": "not json",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "JSON object")
}

func TestSaveAndRunFlow(t *testing.T) {
	s := newTestMCP(t, nil)
	ctx := context.Background()

	_, err := s.registry.Register("add_numbers", testutil.AddSource, false)
	require.NoError(t, err)
	_, err = s.registry.Register("subtract_numbers", testutil.SubtractSource, false)
	require.NoError(t, err)

	spec := `{
	  "name": "calc",
	  "inputs": ["x", "y", "z"],
	  "steps": [
	    {"id": "sum", "tool": "add_numbers", "params": {"a": "$inputs.x", "b": "$inputs.y"}},
	    {"id": "diff", "tool": "subtract_numbers", "params": {"a": "$ctx.sum", "b": "$inputs.z"}}
	  ],
	  "output": "$ctx.diff"
	}`
	result, err := s.handleSaveFlow(ctx, callRequest("takumi_save_flow", map[string]any{"spec": spec}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "saved")

	result, err = s.handleRunFlow(ctx, callRequest("takumi_run_flow", map[string]any{
		"name":   "calc",
		"inputs": `{"x": 2, "y": 3, "z": 1}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Output any `json:"output"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.EqualValues(t, 4, out.Output)
}

func TestRunFlowMissingInput(t *testing.T) {
	s := newTestMCP(t, nil)
	ctx := context.Background()

	_, err := s.registry.Register("add_numbers", testutil.AddSource, false)
	require.NoError(t, err)

	spec := `{"name": "f", "inputs": ["x"], "steps": [{"id": "s1", "tool": "add_numbers", "params": {"a": "$inputs.x"}}]}`
	result, err := s.handleSaveFlow(ctx, callRequest("takumi_save_flow", map[string]any{"spec": spec}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleRunFlow(ctx, callRequest("takumi_run_flow", map[string]any{"name": "f"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"x"`)
}

func TestToolsResource(t *testing.T) {
	s := newTestMCP(t, nil)

	_, err := s.registry.Register("add_numbers", testutil.AddSource, false)
	require.NoError(t, err)

	contents, err := s.handleToolsResource(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "takumi://tools", text.URI)
	assert.Contains(t, text.Text, "add_numbers")
}

func TestFlowsResourceEmpty(t *testing.T) {
	s := newTestMCP(t, nil)

	contents, err := s.handleFlowsResource(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "[]", text.Text)
}
