package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ashita-ai/takumi/internal/model"
)

// callable is a compiled tool ready to be invoked with keyword
// arguments. The underlying Starlark function and its module globals
// are frozen after compilation, so a callable is safe for concurrent
// use; each invocation runs on its own thread.
type callable func(ctx context.Context, params map[string]any) (any, error)

// fileOptions is the Starlark dialect tools are compiled with. The
// extensions match what generated code actually uses: set literals,
// while loops, top-level if/for, reassignment, and recursion.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// predeclared is the environment every tool sees in addition to the
// Starlark universe. Tools get no handle to each other's globals — each
// source executes into its own module.
var predeclared = starlark.StringDict{
	"json": starlarkjson.Module,
	"math": starlarkmath.Module,
	"time": starlarktime.Module,
}

// compile executes source text as an isolated module and extracts the
// top-level callable matching name, along with its introspected
// metadata (parameters, defaults, docstring). Fails with a
// ValidationError when the source does not compile or does not define
// the named callable.
func compile(name, source string, logger *slog.Logger) (callable, model.ToolMetadata, error) {
	thread := &starlark.Thread{
		Name: "compile:" + name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug("tool print", "tool", name, "msg", msg)
		},
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, name+sourceExt, source, predeclared)
	if err != nil {
		return nil, model.ToolMetadata{}, model.Validationf("tool %q does not compile: %v", name, err)
	}

	v, ok := globals[name]
	if !ok {
		return nil, model.ToolMetadata{}, model.Validationf("source does not define a callable named %q", name)
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, model.ToolMetadata{}, model.Validationf("top-level %q is a %s, not a function", name, v.Type())
	}

	meta := introspect(name, source, fn)

	call := func(ctx context.Context, params map[string]any) (any, error) {
		kwargs := make([]starlark.Tuple, 0, len(params))
		for k, pv := range params {
			sv, err := toStarlark(pv)
			if err != nil {
				return nil, model.Validationf("tool %q: param %q: %v", name, k, err)
			}
			kwargs = append(kwargs, starlark.Tuple{starlark.String(k), sv})
		}

		t := &starlark.Thread{
			Name: "invoke:" + name,
			Print: func(_ *starlark.Thread, msg string) {
				logger.Debug("tool print", "tool", name, "msg", msg)
			},
		}
		_ = ctx // the engine treats the call as an opaque blocking call; no deadline injected

		out, err := starlark.Call(t, fn, nil, kwargs)
		if err != nil {
			return nil, err
		}
		return fromStarlark(out)
	}

	return call, meta, nil
}

// introspect builds the metadata record for a compiled function.
// Parameters come from the runtime function object; the docstring comes
// from a syntax pass because it is not part of the callable value.
func introspect(name, source string, fn *starlark.Function) model.ToolMetadata {
	n := fn.NumParams()
	kwonlyStart := n - fn.NumKwonlyParams()

	params := make([]model.Param, 0, n)
	for i := 0; i < n; i++ {
		pname, _ := fn.Param(i)
		def := fn.ParamDefault(i)

		kind := model.KindPositionalOrKeyword
		if i >= kwonlyStart {
			kind = model.KindKeywordOnly
		}

		typ, raw := TypeOf(def)
		p := model.Param{
			Name:     pname,
			Kind:     kind,
			Required: def == nil,
			Type:     typ,
			Raw:      raw,
		}
		if def != nil {
			if dv, err := fromStarlark(def); err == nil {
				p.Default = dv
			}
		}
		params = append(params, p)
	}

	return model.ToolMetadata{
		Name:   name,
		Doc:    docstring(name, source),
		Params: params,
	}
}

// docstring extracts the conventional leading string literal of the
// named top-level def, if present.
func docstring(name, source string) string {
	f, err := fileOptions.Parse(name+sourceExt, source, 0)
	if err != nil {
		return ""
	}
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || def.Name.Name != name {
			continue
		}
		if len(def.Body) == 0 {
			return ""
		}
		expr, ok := def.Body[0].(*syntax.ExprStmt)
		if !ok {
			return ""
		}
		lit, ok := expr.X.(*syntax.Literal)
		if !ok || lit.Token != syntax.STRING {
			return ""
		}
		if s, ok := lit.Value.(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}
	return ""
}

// maxSafeInt is the largest float64 magnitude that still holds an exact
// integer; JSON numbers within it that have no fraction are passed to
// tools as ints, matching how a JSON-native caller would see them.
const maxSafeInt = 1 << 53

// toStarlark converts a JSON-shaped Go value into a Starlark value.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < maxSafeInt {
			return starlark.MakeInt64(int64(x)), nil
		}
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(x))
		for k, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// fromStarlark converts a Starlark value back into a JSON-shaped Go
// value. Ints that exceed int64 are rendered as their decimal string
// rather than losing precision silently.
func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		return x.String(), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case *starlark.List:
		out := make([]any, 0, x.Len())
		for i := 0; i < x.Len(); i++ {
			e, err := fromStarlark(x.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, len(x))
		for _, e := range x {
			ge, err := fromStarlark(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ge)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			ge, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = ge
		}
		return out, nil
	default:
		// Sets, functions, and module values have no JSON shape; fall
		// back to their display form.
		return v.String(), nil
	}
}

// errTypeName reports a short type name for an invocation failure, the
// way the audit log records a cause: type plus message, as data.
func errTypeName(err error) string {
	switch err.(type) {
	case *starlark.EvalError:
		return "EvalError"
	case *model.NotFoundError:
		return "NotFoundError"
	case *model.ValidationError:
		return "ValidationError"
	default:
		t := fmt.Sprintf("%T", err)
		t = strings.TrimPrefix(t, "*")
		if i := strings.LastIndex(t, "."); i >= 0 {
			t = t[i+1:]
		}
		return t
	}
}

// errMessage prefers a Starlark backtrace-free message when available.
func errMessage(err error) string {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return evalErr.Msg
	}
	return err.Error()
}
