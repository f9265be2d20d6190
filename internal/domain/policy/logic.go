package policy

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// LogicCondition is a closed algebraic data type for the policy engine's
// logical pattern language. Every concrete variant implements the marker
// method so no type outside this package can masquerade as a condition;
// evaluation is an exhaustive type switch, never open dispatch.
type LogicCondition interface {
	isLogicCondition()
}

// And is true iff every child is true; an empty And is true.
type And struct{ Children []LogicCondition }

// Or is true iff at least one child is true; an empty Or is false.
type Or struct{ Children []LogicCondition }

// Not negates its single child.
type Not struct{ Child LogicCondition }

// Eq compares two resolved values for equality.
type Eq struct{ LHS, RHS LogicCondition }

// Neq is the negation of Eq.
type Neq struct{ LHS, RHS LogicCondition }

// Gt requires both operands to resolve to comparable numeric scalars.
type Gt struct{ LHS, RHS LogicCondition }

// Lt requires both operands to resolve to comparable numeric scalars.
type Lt struct{ LHS, RHS LogicCondition }

// ToolArgsMatch performs a structural match of the current call's
// arguments against a JSON-shaped schema: schema string values containing
// "*" are glob-matched, everything else requires deep equality. Extra
// argument keys are ignored; a schema key absent from the arguments fails
// the match.
type ToolArgsMatch struct{ Schema map[string]interface{} }

// Literal is a fixed boolean outcome, independent of context.
type Literal struct{ Value bool }

// Var dereferences a dotted path into the evaluation context:
// "tool_name", "args.<dotted.path>", "session.taints",
// "session.taint_count", or "history[-k].field". A Var built by NewScalar
// is instead a comparison operand resolving to the literal JSON scalar
// held in Scalar.
type Var struct {
	Path   string
	Scalar interface{} // used when this Var node is really a literal scalar operand
	isLit  bool
}

// NewScalar builds a Var node that resolves to a fixed scalar rather than
// dereferencing the context, letting Eq/Neq/Gt/Lt take either a Var path
// or a literal on either side without a separate operand type.
func NewScalar(v interface{}) Var { return Var{Scalar: v, isLit: true} }

// CelExpr compiles and evaluates a CEL boolean expression against the
// same evaluation context, via internal/adapter/outbound/cel. It is a
// domain-stack addition on top of the closed hand-rolled variants above:
// purely additive sugar for policy authors who prefer a CEL one-liner over
// nested And/Or/Eq trees. Compilation happens once at policy-load time;
// Program is the opaque compiled handle an Evaluator understands.
type CelExpr struct {
	Expression string
	Program    interface{} // *cel.Program-compatible handle, set by the loader
}

func (And) isLogicCondition()           {}
func (Or) isLogicCondition()            {}
func (Not) isLogicCondition()           {}
func (Eq) isLogicCondition()            {}
func (Neq) isLogicCondition()           {}
func (Gt) isLogicCondition()            {}
func (Lt) isLogicCondition()            {}
func (ToolArgsMatch) isLogicCondition() {}
func (Literal) isLogicCondition()       {}
func (Var) isLogicCondition()           {}
func (CelExpr) isLogicCondition()       {}

// CelEvaluator is the narrow interface internal/adapter/outbound/cel
// implements, kept here so the pure domain package never imports the
// adapter (and thus never imports cel-go directly).
type CelEvaluator interface {
	EvaluateCompiled(program interface{}, ctx EvaluationContext) (bool, error)
}

// Eval evaluates a LogicCondition against ctx. cel may be nil if the
// policy contains no CelExpr nodes; evaluating a CelExpr with a nil
// evaluator is a startup-time configuration error, reported here as a
// Go error rather than silently returning false.
func Eval(c LogicCondition, ctx EvaluationContext, celEval CelEvaluator) (bool, error) {
	switch n := c.(type) {
	case nil:
		return true, nil
	case Literal:
		return n.Value, nil
	case And:
		for _, child := range n.Children {
			ok, err := Eval(child, ctx, celEval)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case Or:
		for _, child := range n.Children {
			ok, err := Eval(child, ctx, celEval)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		if n.Child == nil {
			return false, fmt.Errorf("policy: Not requires exactly one child")
		}
		ok, err := Eval(n.Child, ctx, celEval)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case Eq:
		l, errL := resolve(n.LHS, ctx)
		r, errR := resolve(n.RHS, ctx)
		if errL != nil || errR != nil {
			return false, firstErr(errL, errR)
		}
		return valuesEqual(l, r), nil
	case Neq:
		l, errL := resolve(n.LHS, ctx)
		r, errR := resolve(n.RHS, ctx)
		if errL != nil || errR != nil {
			return false, firstErr(errL, errR)
		}
		return !valuesEqual(l, r), nil
	case Gt:
		return compareNumeric(n.LHS, n.RHS, ctx, func(a, b float64) bool { return a > b })
	case Lt:
		return compareNumeric(n.LHS, n.RHS, ctx, func(a, b float64) bool { return a < b })
	case ToolArgsMatch:
		return matchSchema(n.Schema, ctx.Args), nil
	case Var:
		v, err := resolve(n, ctx)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		return ok && b, nil
	case CelExpr:
		if celEval == nil {
			return false, fmt.Errorf("policy: CelExpr %q has no evaluator configured", n.Expression)
		}
		return celEval.EvaluateCompiled(n.Program, ctx)
	default:
		return false, fmt.Errorf("policy: unhandled LogicCondition variant %T", c)
	}
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// resolve dereferences any LogicCondition used as a value operand (Var or
// Literal) down to a Go scalar (nil, bool, float64, string). Any other
// variant used as an operand is a configuration error.
func resolve(c LogicCondition, ctx EvaluationContext) (interface{}, error) {
	switch n := c.(type) {
	case Var:
		if n.isLit {
			return n.Scalar, nil
		}
		return resolvePath(n.Path, ctx), nil
	case Literal:
		return n.Value, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("policy: %T cannot be used as a value operand", c)
	}
}

// resolvePath dereferences a dotted variable path. Missing paths resolve
// to nil (the null value), never an error.
func resolvePath(path string, ctx EvaluationContext) interface{} {
	switch {
	case path == "tool_name":
		return ctx.ToolName
	case path == "session.taints":
		taints := ctx.TaintSet()
		out := make([]interface{}, len(taints))
		for i, t := range taints {
			out[i] = t
		}
		return out
	case path == "session.taint_count":
		return float64(len(ctx.Taints))
	case strings.HasPrefix(path, "args."):
		return resolveArgsPath(strings.TrimPrefix(path, "args."), ctx.Args)
	case strings.HasPrefix(path, "history["):
		return resolveHistoryPath(path, ctx)
	default:
		return nil
	}
}

func resolveArgsPath(dotted string, args map[string]interface{}) interface{} {
	if args == nil {
		return nil
	}
	segments := strings.Split(dotted, ".")
	var cur interface{} = args
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		v, present := m[seg]
		if !present {
			return nil
		}
		cur = v
	}
	return cur
}

// resolveHistoryPath parses "history[-k].field" and looks up the kth most
// recent entry's field. Out-of-range k resolves to nil.
func resolveHistoryPath(path string, ctx EvaluationContext) interface{} {
	open := strings.Index(path, "[")
	close := strings.Index(path, "]")
	if open == -1 || close == -1 || close < open {
		return nil
	}
	idxStr := path[open+1 : close]
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return nil
	}
	rest := path[close+1:]
	field := strings.TrimPrefix(rest, ".")

	// idx is expected to be negative (history[-1] = most recent).
	pos := len(ctx.History) + idx
	if pos < 0 || pos >= len(ctx.History) {
		return nil
	}
	entry := ctx.History[pos]
	switch field {
	case "tool_name":
		return entry.ToolName
	case "decision":
		return string(entry.Decision)
	case "sequence_number":
		return float64(entry.SequenceNumber)
	default:
		return nil
	}
}

func valuesEqual(a, b interface{}) bool {
	an, aIsNum := toFloat(a)
	bn, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameKind(a, b)
}

func sameKind(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// compareNumeric implements Gt/Lt: both operands must resolve to
// comparable numeric scalars; if either is null (or non-numeric), the
// comparison evaluates to false per the type-discipline rule that only
// Eq/Neq may involve null.
func compareNumeric(lhs, rhs LogicCondition, ctx EvaluationContext, cmp func(a, b float64) bool) (bool, error) {
	l, errL := resolve(lhs, ctx)
	r, errR := resolve(rhs, ctx)
	if errL != nil || errR != nil {
		return false, firstErr(errL, errR)
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return false, nil
	}
	return cmp(lf, rf), nil
}

// matchSchema performs the ToolArgsMatch structural comparison.
func matchSchema(schema map[string]interface{}, args map[string]interface{}) bool {
	if args == nil {
		args = map[string]interface{}{}
	}
	for k, want := range schema {
		got, present := args[k]
		if !present {
			return false
		}
		if !matchValue(want, got) {
			return false
		}
	}
	return true
}

func matchValue(want, got interface{}) bool {
	switch w := want.(type) {
	case string:
		if strings.Contains(w, "*") {
			gotStr, ok := got.(string)
			if !ok {
				return false
			}
			matched, _ := filepath.Match(w, gotStr)
			return matched
		}
		return valuesEqual(w, got)
	case map[string]interface{}:
		gotMap, ok := got.(map[string]interface{})
		if !ok {
			return false
		}
		return matchSchema(w, gotMap)
	default:
		return valuesEqual(want, got)
	}
}
