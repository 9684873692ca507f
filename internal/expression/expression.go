// Package expression evaluates gateway conditions and resolves variable
// paths against a variable scope.
//
// Conditions are CUE expressions. Variables of the scope are visible as
// top-level identifiers, so `foo >= 5 && foo < 10` reads the variable foo.
package expression

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Evaluator compiles and evaluates conditions. An Evaluator is not safe for
// concurrent use; each partition owns one.
type Evaluator struct {
	ctx *cue.Context
}

// New creates an Evaluator with its own CUE context.
func New() *Evaluator {
	return &Evaluator{ctx: cuecontext.New()}
}

// EvalError reports a condition that could not be evaluated to a boolean.
type EvalError struct {
	Expression string
	Err        error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("failed to evaluate expression '%s': %v", e.Expression, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// EvaluateBool evaluates expr with vars in scope.
func (e *Evaluator) EvaluateBool(expr string, vars map[string]any) (bool, error) {
	if vars == nil {
		vars = map[string]any{}
	}

	scope := e.ctx.Encode(vars)
	if err := scope.Err(); err != nil {
		return false, &EvalError{Expression: expr, Err: err}
	}

	v := e.ctx.CompileString(expr, cue.Scope(scope), cue.Filename("condition"))
	if err := v.Err(); err != nil {
		return false, &EvalError{Expression: expr, Err: err}
	}

	result, err := v.Bool()
	if err != nil {
		return false, &EvalError{Expression: expr, Err: fmt.Errorf("expected a boolean result: %w", err)}
	}
	return result, nil
}

// ErrNoData is wrapped by Lookup when a path does not resolve.
var ErrNoData = errors.New("no data found")

// MissingPathError names the path that did not resolve.
type MissingPathError struct {
	Path string
}

func (e *MissingPathError) Error() string {
	return fmt.Sprintf("No data found for query %s.", e.Path)
}

func (e *MissingPathError) Unwrap() error {
	return ErrNoData
}

// Lookup resolves a dotted path such as `order.customer.id` in vars.
func Lookup(vars map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, &MissingPathError{Path: path}
		}
		next, ok := obj[part]
		if !ok {
			return nil, &MissingPathError{Path: path}
		}
		current = next
	}
	return current, nil
}

// LookupString resolves path and renders scalar values as a string, as
// needed for message correlation keys. Objects, lists and null are refused.
func LookupString(vars map[string]any, path string) (string, error) {
	v, err := Lookup(vars, path)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val)), nil
		}
		return fmt.Sprintf("%g", val), nil
	case int, int64, bool:
		return fmt.Sprintf("%v", val), nil
	default:
		return "", fmt.Errorf("The value must be either a string or a number, but was %s.", kindOf(v))
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "NULL"
	case map[string]any:
		return "OBJECT"
	case []any:
		return "ARRAY"
	default:
		return fmt.Sprintf("%T", v)
	}
}
