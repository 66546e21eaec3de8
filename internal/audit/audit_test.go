package audit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/takumi/internal/audit"
	"github.com/ashita-ai/takumi/internal/model"
	"github.com/ashita-ai/takumi/internal/testutil"
)

func newLog(t *testing.T) *audit.Log {
	t.Helper()
	l, err := audit.New(t.TempDir(), testutil.TestLogger())
	require.NoError(t, err)
	return l
}

func entry(tool string, status model.RunStatus) model.RunEntry {
	now := time.Now().UTC()
	return model.RunEntry{
		RunID:      uuid.New(),
		Tool:       tool,
		StartedAt:  now,
		FinishedAt: now,
		Status:     status,
	}
}

func TestAppendAndTail(t *testing.T) {
	l := newLog(t)

	first := entry("add_numbers", model.RunStatusSuccess)
	second := entry("add_numbers", model.RunStatusError)
	third := entry("add_numbers", model.RunStatusSuccess)
	require.NoError(t, l.Append("add_numbers", first))
	require.NoError(t, l.Append("add_numbers", second))
	require.NoError(t, l.Append("add_numbers", third))

	// Newest first.
	got, err := l.Tail("add_numbers", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, third.RunID, got[0].RunID)
	assert.Equal(t, second.RunID, got[1].RunID)
	assert.Equal(t, first.RunID, got[2].RunID)

	// Limit keeps the newest.
	got, err = l.Tail("add_numbers", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, third.RunID, got[0].RunID)
	assert.Equal(t, second.RunID, got[1].RunID)
}

func TestTailMissingStream(t *testing.T) {
	l := newLog(t)
	got, err := l.Tail("never_used", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTailSkipsTornRecord(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.New(dir, testutil.TestLogger())
	require.NoError(t, err)

	keep := entry("add_numbers", model.RunStatusSuccess)
	require.NoError(t, l.Append("add_numbers", keep))

	// Simulate a crash mid-write: a torn, non-JSON trailing line.
	f, err := os.OpenFile(filepath.Join(dir, "add_numbers.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"run_id": "torn`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := l.Tail("add_numbers", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, keep.RunID, got[0].RunID)
}

func TestFlowStreamSeparateFromToolStream(t *testing.T) {
	l := newLog(t)

	require.NoError(t, l.Append("add_numbers", entry("add_numbers", model.RunStatusSuccess)))
	require.NoError(t, l.Append(audit.FlowStreamPrefix+"calc", entry("add_numbers", model.RunStatusSuccess)))

	toolRuns, err := l.Tail("add_numbers", 0)
	require.NoError(t, err)
	flowRuns, err := l.Tail(audit.FlowStreamPrefix+"calc", 0)
	require.NoError(t, err)
	assert.Len(t, toolRuns, 1)
	assert.Len(t, flowRuns, 1)
}

func TestInvalidStreamID(t *testing.T) {
	l := newLog(t)

	err := l.Append("../escape", entry("x", model.RunStatusSuccess))
	require.Error(t, err)

	_, err = l.Tail("bad name", 0)
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	l := newLog(t)

	require.NoError(t, l.Append("add_numbers", entry("add_numbers", model.RunStatusSuccess)))
	require.NoError(t, l.Remove("add_numbers"))

	got, err := l.Tail("add_numbers", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Removing an absent stream is a no-op.
	require.NoError(t, l.Remove("add_numbers"))
}
