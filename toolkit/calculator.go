package toolkit

import (
	"context"
	"fmt"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/expr"
)

// calculatorState adapts a single "expression" argument into something
// expr.Eval can read: it exposes the input values under their own keys so
// `state.get("x")` reaches the caller's arguments directly.
type calculatorState map[string]any

func (c calculatorState) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// Calculator is the builtin "calculator" tool class: it evaluates an
// arithmetic expression using the same closed grammar and evaluator as
// edge conditions (expr/), rather than a second, unaudited expression
// path — a tool that could run arbitrary code would defeat the point of
// sandboxing expression evaluation in the first place.
type Calculator struct{}

// NewCalculator builds the "calculator" builtin. It takes no config.
func NewCalculator(_ map[string]any) (Tool, error) {
	return &Calculator{}, nil
}

// Name implements Tool.
func (c *Calculator) Name() string { return "calculator" }

// Call implements Tool. args must contain "expression", a string in the
// expr grammar; any variables it references via state.get/state[...] are
// read from the remaining entries of args.
func (c *Calculator) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	exprStr, ok := args["expression"].(string)
	if !ok || exprStr == "" {
		return nil, &agferrors.ToolExecutionError{ToolName: c.Name(), Cause: fmt.Errorf("\"expression\" argument is required")}
	}

	tree, err := expr.Parse(exprStr)
	if err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: c.Name(), Cause: err}
	}
	result, err := expr.Eval(tree, calculatorState(args))
	if err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: c.Name(), Cause: err}
	}
	return map[string]any{"result": result}, nil
}
