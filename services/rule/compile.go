package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celCostLimit bounds the runtime cost of a single expression evaluation.
const celCostLimit = 10_000

// The environment exposes the record as a single map so a compiled program
// does not depend on which fields a given record carries. It declares no
// functions beyond the CEL standard library, which has no clock or I/O.
var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
})

type CompiledExpression struct {
	Expression string
	Program    cel.Program
}

func compileExpression(expr string) (*CompiledExpression, error) {
	if expr == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}

	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return a boolean, got %s", out)
	}

	program, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &CompiledExpression{Expression: expr, Program: program}, nil
}

func (c *CompiledExpression) evaluate(record map[string]any) (bool, error) {
	if c.Program == nil {
		return false, fmt.Errorf("compiled program is nil for %q", c.Expression)
	}

	val, _, err := c.Program.Eval(map[string]any{"record": record})
	if err != nil {
		return false, fmt.Errorf("eval failed for %q: %w", c.Expression, err)
	}

	matched, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%q did not return boolean", c.Expression)
	}

	return matched, nil
}
