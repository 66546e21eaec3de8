package flow

import (
	"sort"
	"strings"

	"github.com/ashita-ai/takumi/internal/model"
)

// Placeholder grammar: a param value that is exactly "$inputs.<key>" or
// "$ctx.<key>" is substituted before invocation. Anything else —
// including strings that merely contain such a pattern as a substring,
// and non-string values — passes through unchanged as a literal.
const (
	inputsPrefix = "$inputs."
	ctxPrefix    = "$ctx."
)

// resolveValue resolves one placeholder-or-literal value. A reference
// to a missing input key, or to a context key not yet produced (forward
// references included), fails with a ReferenceError naming the
// placeholder and the step being resolved.
func resolveValue(v any, inputs, runCtx map[string]any, stepID string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if key, ok := strings.CutPrefix(s, inputsPrefix); ok {
		val, present := inputs[key]
		if !present {
			return nil, &model.ReferenceError{Placeholder: s, StepID: stepID}
		}
		return val, nil
	}
	if key, ok := strings.CutPrefix(s, ctxPrefix); ok {
		val, present := runCtx[key]
		if !present {
			return nil, &model.ReferenceError{Placeholder: s, StepID: stepID}
		}
		return val, nil
	}
	return s, nil
}

// resolveParams resolves a step's param mapping. Params are visited in
// sorted key order so the first unresolved reference reported is
// deterministic; resolution stops at that first failure with no partial
// result.
func resolveParams(params map[string]any, inputs, runCtx map[string]any, stepID string) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolved := make(map[string]any, len(params))
	for _, k := range keys {
		v, err := resolveValue(params[k], inputs, runCtx, stepID)
		if err != nil {
			return nil, err
		}
		resolved[k] = v
	}
	return resolved, nil
}
