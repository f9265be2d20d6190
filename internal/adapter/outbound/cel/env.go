// Package cel adapts google/cel-go to evaluate the policy engine's CelExpr
// LogicCondition variant: a CEL one-liner that stands in for a tree of
// And/Or/Eq nodes, compiled once at policy-load time and evaluated against
// the same EvaluationContext every other condition sees.
package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// newPolicyEnvironment builds the CEL environment exposed to policy
// authors. The variable surface is deliberately narrow, since this
// gateway speaks only MCP tool-invocation and resource-read requests: it
// exposes policy.EvaluationContext's tool name, arguments, URI and
// session taints; tool classes and history are not exposed.
func newPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("uri", cel.StringType),
		cel.Variable("session_taints", cel.ListType(cel.StringType)),
		cel.Variable("session_taint_count", cel.IntType),

		// glob: path-style pattern match, used for argument and URI checks.
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					v, ok2 := value.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),
	)
}
