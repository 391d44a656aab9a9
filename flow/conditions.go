package flow

import (
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/vaanihq/vaani/store/cache"
)

// Evaluator compiles and runs condition expressions. Expressions are CEL
// over the run scope roots (variables, collected, session, input, flow), a
// sandboxed subset with no side effects. Compiled programs are cached by
// expression text.
type Evaluator struct {
	env      *cel.Env
	programs *cache.LRUCache[string, cel.Program]
}

// NewEvaluator creates the shared condition evaluator.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("variables", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("collected", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("session", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("flow", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build cel environment")
	}
	return &Evaluator{
		env:      env,
		programs: cache.NewLRUCache[string, cel.Program](512, 24*time.Hour),
	}, nil
}

// Eval evaluates one boolean expression against the scope. A compile
// failure is a SchemaError surfaced to the caller; an expression that
// evaluates to a non-boolean or references missing keys is simply false.
func (e *Evaluator) Eval(expr string, scope map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(scope)
	if err != nil {
		// Missing map keys surface as eval errors in CEL; conditions
		// over absent data are false, not fatal.
		slog.Debug("flow: condition eval error", "expr", expr, "error", err)
		return false, nil
	}

	b, ok := out.Value().(bool)
	if !ok {
		slog.Warn("flow: condition is not boolean", "expr", expr)
		return false, nil
	}
	return b, nil
}

// Check compiles the expression without running it; used by flow load
// validation so bad expressions are refused before they reach the engine.
func (e *Evaluator) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	if prg, ok := e.programs.Get(expr); ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid condition expression %q", expr)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build program for %q", expr)
	}

	e.programs.Set(expr, prg, 0)
	return prg, nil
}
