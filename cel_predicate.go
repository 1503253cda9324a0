package apprun

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// evalCELPredicate evaluates a boolean CEL expression against a node's
// meta map, the optional alternative to a Go predicate function for
// middleware `everywhere` selection (SPEC_FULL.md §4.3 expansion).
// Grounded on Dutt23-agentic-orchestrator's cmd/workflow-runner/condition
// evaluator, which compiles and caches CEL programs over a `meta`-like
// variable map.
func evalCELPredicate(expr string, meta map[string]any) (bool, error) {
	prg, err := compiledCELPredicate(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"meta": meta})
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("apprun: everywhere CEL expression %q did not evaluate to bool", expr)
	}
	return result, nil
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error

	celCacheMu sync.Mutex
	celCache   = map[string]cel.Program{}
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(cel.Variable("meta", cel.DynType))
	})
	return celEnv, celEnvErr
}

func compiledCELPredicate(expr string) (cel.Program, error) {
	celCacheMu.Lock()
	if prg, ok := celCache[expr]; ok {
		celCacheMu.Unlock()
		return prg, nil
	}
	celCacheMu.Unlock()

	env, err := getCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("apprun: invalid everywhere CEL expression %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	celCacheMu.Lock()
	celCache[expr] = prg
	celCacheMu.Unlock()
	return prg, nil
}
