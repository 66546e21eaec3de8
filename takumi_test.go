package takumi_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/takumi"
	"github.com/ashita-ai/takumi/internal/testutil"
)

// staticGenerator serves canned sources keyed by tool name.
type staticGenerator map[string]string

func (g staticGenerator) Generate(_ context.Context, name, _ string) (string, error) {
	src, ok := g[name]
	if !ok {
		return "", fmt.Errorf("no canned source for %q", name)
	}
	return src, nil
}

func newApp(t *testing.T, opts ...takumi.Option) *takumi.App {
	t.Helper()
	opts = append([]takumi.Option{
		takumi.WithDataDir(t.TempDir()),
		takumi.WithLogger(testutil.TestLogger()),
		takumi.WithVersion("test"),
	}, opts...)
	app, err := takumi.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestToolLifecycle(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	tool, err := app.CreateTool(ctx, "add_numbers", testutil.AddSource, false)
	require.NoError(t, err)
	assert.Equal(t, "add_numbers", tool.Name)
	assert.Equal(t, "Add two numbers.", tool.Doc)
	require.Len(t, tool.Params, 2)
	assert.True(t, tool.Params[0].Required)
	assert.False(t, tool.Params[1].Required)
	assert.EqualValues(t, 0, tool.Params[1].Default)

	result, err := app.UseTool(ctx, "add_numbers", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.EqualValues(t, 5, result)

	assert.Equal(t, []string{"add_numbers"}, app.ListTools())

	src, err := app.ToolSource("add_numbers")
	require.NoError(t, err)
	assert.Equal(t, testutil.AddSource, src)

	runs, err := app.ToolRuns("add_numbers", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, "5", runs[0].Result)

	require.NoError(t, app.RemoveTool("add_numbers"))
	assert.Empty(t, app.ListTools())
	_, err = app.DescribeTool("add_numbers")
	assert.True(t, takumi.IsNotFound(err))
}

func TestKeywordOnlyParam(t *testing.T) {
	app := newApp(t)

	src := `def greet(name, *, excited=False):
    """Greet someone."""
    return name
`
	tool, err := app.CreateTool(context.Background(), "greet", src, false)
	require.NoError(t, err)
	require.Len(t, tool.Params, 2)
	assert.False(t, tool.Params[0].KwOnly)
	assert.True(t, tool.Params[1].KwOnly)
	assert.Equal(t, "bool", tool.Params[1].Type)
}

func TestGenerateTool(t *testing.T) {
	gen := staticGenerator{
		"shout": "def shout(s):\n    \"\"\"Upcase a string.\"\"\"\n    return s.upper()\n",
	}
	app := newApp(t, takumi.WithGenerator(gen))
	ctx := context.Background()

	tool, err := app.GenerateTool(ctx, "shout", "upcase a string", false)
	require.NoError(t, err)
	assert.Equal(t, "shout", tool.Name)

	result, err := app.UseTool(ctx, "shout", map[string]any{"s": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "HI", result)

	// Generation failure never registers anything.
	_, err = app.GenerateTool(ctx, "unknown", "whatever", false)
	require.Error(t, err)
	assert.NotContains(t, app.ListTools(), "unknown")
}

func TestFlowLifecycle(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	_, err := app.CreateTool(ctx, "add_numbers", testutil.AddSource, false)
	require.NoError(t, err)
	_, err = app.CreateTool(ctx, "subtract_numbers", testutil.SubtractSource, false)
	require.NoError(t, err)

	flow := takumi.Flow{
		Name:   "calc",
		Inputs: []string{"x", "y", "z"},
		Steps: []takumi.FlowStep{
			{ID: "sum", Tool: "add_numbers", Params: map[string]any{"a": "$inputs.x", "b": "$inputs.y"}},
			{ID: "diff", Tool: "subtract_numbers", Params: map[string]any{"a": "$ctx.sum", "b": "$inputs.z"}},
		},
		Output: "$ctx.diff",
	}
	require.NoError(t, app.CreateFlow(flow))
	assert.Equal(t, []string{"calc"}, app.ListFlows())

	got, err := app.DescribeFlow("calc")
	require.NoError(t, err)
	assert.Equal(t, flow, got)

	out, err := app.RunFlow(ctx, "calc", map[string]any{"x": 2, "y": 3, "z": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 4, out)

	runs, err := app.FlowRuns("calc", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Empty(t, runs[0].StepID)
	assert.Equal(t, "4", runs[0].Result)
	require.NotNil(t, runs[0].FlowRunID)

	require.NoError(t, app.DeleteFlow("calc"))
	assert.Empty(t, app.ListFlows())
	_, err = app.DescribeFlow("calc")
	assert.True(t, takumi.IsNotFound(err))
}

func TestErrorPredicates(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	_, err := app.CreateTool(ctx, "always_fails", testutil.FailSource, false)
	require.NoError(t, err)

	_, err = app.UseTool(ctx, "ghost", nil)
	assert.True(t, takumi.IsNotFound(err))
	assert.False(t, takumi.IsExecution(err))

	_, err = app.UseTool(ctx, "always_fails", map[string]any{"reason": "boom"})
	assert.True(t, takumi.IsExecution(err))

	_, err = app.CreateTool(ctx, "Bad Name!", testutil.AddSource, false)
	assert.True(t, takumi.IsValidation(err))

	err = app.CreateFlow(takumi.Flow{
		Name:  "f",
		Steps: []takumi.FlowStep{{ID: "s1", Tool: "add_numbers", Params: map[string]any{"a": "$ctx.nope", "b": 1}}},
	})
	// Save validates tool references; the unresolved placeholder only
	// surfaces at run time.
	assert.True(t, takumi.IsValidation(err))

	_, err = app.CreateTool(ctx, "add_numbers", testutil.AddSource, false)
	require.NoError(t, err)
	require.NoError(t, app.CreateFlow(takumi.Flow{
		Name:  "f",
		Steps: []takumi.FlowStep{{ID: "s1", Tool: "add_numbers", Params: map[string]any{"a": "$ctx.nope", "b": 1}}},
	}))
	_, err = app.RunFlow(ctx, "f", nil)
	assert.True(t, takumi.IsReference(err))
	assert.Equal(t, "s1", takumi.FailedStep(err))
}

func TestPersistenceAcrossApps(t *testing.T) {
	dir := t.TempDir()
	logger := testutil.TestLogger()
	ctx := context.Background()

	app1, err := takumi.New(takumi.WithDataDir(dir), takumi.WithLogger(logger))
	require.NoError(t, err)
	_, err = app1.CreateTool(ctx, "add_numbers", testutil.AddSource, false)
	require.NoError(t, err)
	require.NoError(t, app1.Close())

	app2, err := takumi.New(takumi.WithDataDir(dir), takumi.WithLogger(logger))
	require.NoError(t, err)
	defer func() { _ = app2.Close() }()

	assert.Equal(t, []string{"add_numbers"}, app2.ListTools())
	result, err := app2.UseTool(ctx, "add_numbers", map[string]any{"a": 4})
	require.NoError(t, err)
	assert.EqualValues(t, 4, result)
}

func TestReconfigure(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	_, err := app.CreateTool(ctx, "add_numbers", testutil.AddSource, false)
	require.NoError(t, err)

	// Point the app at a fresh layout: empty catalogs, old data intact.
	fresh := t.TempDir()
	require.NoError(t, app.Reconfigure(takumi.WithDataDir(fresh)))
	assert.Empty(t, app.ListTools())

	_, err = app.CreateTool(ctx, "subtract_numbers", testutil.SubtractSource, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"subtract_numbers"}, app.ListTools())
}
