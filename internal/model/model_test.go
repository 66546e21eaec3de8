package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/takumi/internal/model"
)

func TestValidateName_Valid(t *testing.T) {
	valid := []string{
		"tool",
		"add_numbers",
		"_private",
		"Tool2",
		"a",
		strings.Repeat("a", model.MaxNameLen),
	}
	for _, name := range valid {
		require.NoError(t, model.ValidateName(name), "expected valid: %q", name)
	}
}

func TestValidateName_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"2fast",
		"has-dash",
		"has.dot",
		"has space",
		"../escape",
		"tool/name",
		strings.Repeat("a", model.MaxNameLen+1),
	}
	for _, name := range invalid {
		err := model.ValidateName(name)
		require.Error(t, err, "expected invalid: %q", name)
		var vErr *model.ValidationError
		require.ErrorAs(t, err, &vErr, "%q should fail with ValidationError", name)
	}
}

func TestFlowSpec_ValidateStructure(t *testing.T) {
	step := func(id string) model.FlowStep {
		return model.FlowStep{ID: id, Tool: "add_numbers"}
	}

	tests := []struct {
		name    string
		spec    model.FlowSpec
		wantErr string
	}{
		{
			name: "valid",
			spec: model.FlowSpec{Name: "f", Steps: []model.FlowStep{step("s1"), step("s2")}},
		},
		{
			name:    "bad name",
			spec:    model.FlowSpec{Name: "bad name", Steps: []model.FlowStep{step("s1")}},
			wantErr: "invalid character",
		},
		{
			name:    "no steps",
			spec:    model.FlowSpec{Name: "f"},
			wantErr: "has no steps",
		},
		{
			name:    "empty step id",
			spec:    model.FlowSpec{Name: "f", Steps: []model.FlowStep{step("")}},
			wantErr: "empty id",
		},
		{
			name:    "duplicate step id",
			spec:    model.FlowSpec{Name: "f", Steps: []model.FlowStep{step("s1"), step("s1")}},
			wantErr: "duplicate step id",
		},
		{
			name:    "step without tool",
			spec:    model.FlowSpec{Name: "f", Steps: []model.FlowStep{{ID: "s1"}}},
			wantErr: "names no tool",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.ValidateStructure()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "5", model.Summarize(5))
	assert.Equal(t, `"hello"`, model.Summarize("hello"))
	assert.Equal(t, `{"a":1}`, model.Summarize(map[string]any{"a": 1}))
	assert.Equal(t, "null", model.Summarize(nil))

	long := model.Summarize(strings.Repeat("x", 2*model.MaxResultSummary))
	assert.Len(t, long, model.MaxResultSummary+3)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `tool "x" not found`, (&model.NotFoundError{Kind: "tool", Name: "x"}).Error())
	assert.Equal(t, `step "s2": unresolved reference "$ctx.s9"`,
		(&model.ReferenceError{Placeholder: "$ctx.s9", StepID: "s2"}).Error())
	assert.Equal(t, `unresolved reference "$inputs.x"`,
		(&model.ReferenceError{Placeholder: "$inputs.x"}).Error())
	assert.Equal(t, `step "s1": tool "t" failed: boom`,
		(&model.ExecutionError{Tool: "t", StepID: "s1", Message: "boom"}).Error())
	assert.Equal(t, `tool "t" failed: boom`,
		(&model.ExecutionError{Tool: "t", Message: "boom"}).Error())
}
