package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/sentinelcore/mcpgate/internal/domain/policy"
)

// maxExpressionLength bounds the source text of a single CelExpr.
const maxExpressionLength = 1024

// maxCostBudget bounds the CEL runtime cost estimate, guarding against a
// policy author writing an exponential comprehension.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket nesting in the source text.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation's wall-clock time.
const evalTimeout = 2 * time.Second

const interruptCheckFreq = 100

// Evaluator compiles and evaluates CelExpr conditions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds an Evaluator bound to the policy environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel: building policy environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile validates and compiles expr, returning the opaque program handle
// that a policy.CelExpr.Program field should hold. Policy loading calls
// this once per expression; evaluation never recompiles.
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("cel: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if depth := nestingDepth(expr); depth > maxNestingDepth {
		return nil, fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", depth, maxNestingDepth)
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: program creation failed: %w", err)
	}
	return prg, nil
}

func nestingDepth(expr string) int {
	var depth, max int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > max {
				max = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	return max
}

// CompileAny implements config.CelCompiler, letting the policy document
// loader compile CelExpr conditions without importing cel-go directly.
func (e *Evaluator) CompileAny(expr string) (interface{}, error) {
	return e.Compile(expr)
}

// EvaluateCompiled implements policy.CelEvaluator. program must be the
// cel.Program returned by Compile; any other type is a configuration
// error caught here rather than panicking inside the policy engine.
func (e *Evaluator) EvaluateCompiled(program interface{}, ctx policy.EvaluationContext) (bool, error) {
	prg, ok := program.(cel.Program)
	if !ok {
		return false, fmt.Errorf("cel: program handle is %T, not a compiled cel.Program", program)
	}

	activation := buildActivation(ctx)

	timeoutCtx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(timeoutCtx, activation)
	if err != nil {
		return false, fmt.Errorf("cel: evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}

func buildActivation(ctx policy.EvaluationContext) map[string]any {
	args := ctx.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	taints := ctx.TaintSet()
	if taints == nil {
		taints = []string{}
	}
	return map[string]any{
		"tool_name":           ctx.ToolName,
		"args":                args,
		"uri":                 ctx.URI,
		"session_taints":      taints,
		"session_taint_count": int64(len(taints)),
	}
}
