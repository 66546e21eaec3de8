package registry

import (
	"go.starlark.net/starlark"

	"github.com/ashita-ai/takumi/internal/model"
)

// TypeOf maps a parameter's declared default value onto the closed
// annotation enumeration used by UI consumers to pick input widgets.
// Starlark carries no type annotations, so the default is the only
// reflected type hint a signature offers. The mapping is total:
// container and mapping values collapse to json, a None default (the
// optional-wrapper idiom) and a missing default both collapse to any.
// The second result is the raw Starlark type name, empty when there is
// no default at all.
func TypeOf(def starlark.Value) (model.ParamType, string) {
	if def == nil {
		return model.ParamTypeAny, ""
	}
	switch def.(type) {
	case starlark.Int:
		return model.ParamTypeInt, def.Type()
	case starlark.Float:
		return model.ParamTypeFloat, def.Type()
	case starlark.Bool:
		return model.ParamTypeBool, def.Type()
	case starlark.String:
		return model.ParamTypeStr, def.Type()
	case *starlark.List, starlark.Tuple, *starlark.Dict, *starlark.Set:
		return model.ParamTypeJSON, def.Type()
	case starlark.NoneType:
		return model.ParamTypeAny, def.Type()
	default:
		return model.ParamTypeAny, def.Type()
	}
}
