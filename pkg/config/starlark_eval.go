package config

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const (
	defaultScriptTimeout = 30 * time.Second
	defaultScriptSteps   = 10_000_000
)

// StarlarkEvaluator runs Starlark scripts under a wall-clock timeout and an
// execution step budget.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
	logger   zerolog.Logger
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout means 30s.
func NewStarlarkEvaluator(timeout time.Duration, logger zerolog.Logger) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return &StarlarkEvaluator{
		timeout:  timeout,
		maxSteps: defaultScriptSteps,
		logger:   logger,
	}
}

// Evaluate runs script with input bound as globals and returns its public
// data globals.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	return se.EvaluateWith(ctx, "config.star", script, input, nil)
}

// EvaluateWith is Evaluate with a file name for error positions and extra
// predeclared builtins.
func (se *StarlarkEvaluator) EvaluateWith(ctx context.Context, filename, script string, input map[string]interface{}, builtins starlark.StringDict) (*StarlarkResult, error) {
	started := time.Now()
	fail := func(err error) (*StarlarkResult, error) {
		return &StarlarkResult{ExecutionTime: time.Since(started), Error: err.Error()}, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()
	if err := evalCtx.Err(); err != nil {
		return fail(fmt.Errorf("starlark execution not started: %w", err))
	}

	predeclared, err := se.predeclared(input, builtins)
	if err != nil {
		return fail(err)
	}

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			se.logger.Debug().Str("script", filename).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(se.maxSteps)
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(context.Cause(evalCtx).Error())
	})
	defer stop()

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		if evalCtx.Err() != nil {
			return fail(fmt.Errorf("starlark execution timeout after %v: %w", se.timeout, err))
		}
		return fail(fmt.Errorf("starlark execution failed: %w", err))
	}

	output, err := exportGlobals(globals)
	if err != nil {
		return fail(err)
	}
	return &StarlarkResult{Output: output, ExecutionTime: time.Since(started)}, nil
}

func (se *StarlarkEvaluator) predeclared(input map[string]interface{}, builtins starlark.StringDict) (starlark.StringDict, error) {
	env := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	maps.Copy(env, builtins)
	for name, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", name, err)
		}
		env[name] = sv
	}
	return env, nil
}

// exportGlobals converts the data globals of a finished script. Names with
// a leading underscore and callables are left out.
func exportGlobals(globals starlark.StringDict) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if name == "" || name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		v, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		elems := make([]starlark.Value, len(val))
		for i, s := range val {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems), nil
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a script value to plain Go data: lists for any
// sequence, string-keyed maps for dicts and structs.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			elem, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = elem
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			elem, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			out[name] = elem
		}
		return out, nil
	case starlark.Iterable:
		return fromSequence(val)
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromSequence(seq starlark.Iterable) ([]interface{}, error) {
	iter := seq.Iterate()
	defer iter.Done()

	var out []interface{}
	if s, ok := seq.(starlark.Sequence); ok {
		out = make([]interface{}, 0, s.Len())
	}
	var x starlark.Value
	for iter.Next(&x) {
		elem, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}
