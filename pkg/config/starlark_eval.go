package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultStarlarkTimeout bounds a script run when no timeout is given.
const DefaultStarlarkTimeout = 30 * time.Second

// StarlarkEvaluator runs experiment scripts and workflow hooks. Values
// cross the Go boundary in their JSON form, through the json module scripts
// already see.
type StarlarkEvaluator struct {
	timeout time.Duration

	// Print receives print() output. Nil discards it.
	Print func(msg string)
}

// NewStarlarkEvaluator returns an evaluator whose runs are cancelled after
// timeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Predeclared returns the builtins every script sees: struct, json and math.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starjson.Module,
		"math":   starmath.Module,
	}
}

// Run executes script with Predeclared plus input bound as globals.
func (se *StarlarkEvaluator) Run(ctx context.Context, filename, script string, input map[string]any) (starlark.StringDict, error) {
	predeclared := Predeclared()
	for _, name := range sortedKeys(input) {
		v, err := ToStarlarkValue(input[name])
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		predeclared[name] = v
	}
	return se.Exec(ctx, filename, script, predeclared)
}

// Exec executes script with the given predeclared globals. The thread is
// cancelled when ctx is done or the timeout elapses.
func (se *StarlarkEvaluator) Exec(ctx context.Context, filename, script string, predeclared starlark.StringDict) (starlark.StringDict, error) {
	runCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			if se.Print != nil {
				se.Print(msg)
			}
		},
	}
	stop := context.AfterFunc(runCtx, func() { thread.Cancel(runCtx.Err().Error()) })
	defer stop()

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	switch {
	case err == nil:
		return globals, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, fmt.Errorf("%s: timeout after %v: %w", filename, se.timeout, err)
	default:
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
}

// ToStarlarkValue converts any JSON-encodable Go value. Objects become
// dicts with sorted keys, integral numbers become ints.
func ToStarlarkValue(v any) (starlark.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %T: %w", v, err)
	}
	return callJSON("decode", starlark.String(data))
}

// DecodeValue stores the JSON encoding of v in out, rejecting object keys
// that out does not declare. Structs encode like dicts.
func DecodeValue(v starlark.Value, out any) error {
	encoded, err := callJSON("encode", v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(encoded.(starlark.String))))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func callJSON(fn string, arg starlark.Value) (starlark.Value, error) {
	thread := &starlark.Thread{Name: "json." + fn}
	return starlark.Call(thread, starjson.Module.Members[fn], starlark.Tuple{arg}, nil)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
