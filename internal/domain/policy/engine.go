// Package policy implements the pure decision function the dispatcher
// consults before forwarding any tools/call or resources/read request: a
// Policy plus an EvaluationContext snapshot in, a Decision out, with no
// side effects of its own. Evaluate never mutates a Ledger; the caller
// applies the returned TaintsToAdd/TaintsToRemove atomically afterward.
package policy

import (
	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/domain/tool"
)

const lethalTrifectaRuleID = "lethal-trifecta"
const defaultDenyRuleID = "default-fail-closed"

// Evaluate runs the six-step decision order:
//  1. lethal-trifecta precheck
//  2. static rules
//  3. resource rules (resource reads only)
//  4. taint rules, in declaration order
//  5. default fail-closed
//  6. allow, carrying the accumulated taint-ledger side effects
//
// celEval may be nil if the policy contains no CelExpr conditions.
func Evaluate(p Policy, ctx EvaluationContext, celEval CelEvaluator) Decision {
	if isLethalTrifecta(p, ctx) {
		return Deny(lethalTrifectaRuleID, "request denied: session exhibits the lethal trifecta (private data access, untrusted input, and an exfiltration-capable tool)")
	}

	isResourceRead := ctx.URI != ""
	allowSeen := false

	if !isResourceRead {
		switch action, ok := p.StaticRules[ctx.ToolName]; {
		case !ok:
			// allow_seen stays false; dynamic rules may still allow this
			// request. Only the final fail-closed check below denies it.
		case action == StaticDeny:
			return Deny("static-rule", "tool \""+ctx.ToolName+"\" is statically denied")
		default:
			allowSeen = true
		}
	}

	var adds, removes []taint.Tag
	if isResourceRead {
		decision, matched, taintsToAdd := evaluateResourceRules(p.ResourceRules, ctx, celEval)

		if !matched {
			return Deny(defaultDenyRuleID, "no resource rule matched \""+ctx.URI+"\", default fail-closed")
		}
		if decision.Verdict == VerdictDeny {
			return decision
		}
		allowSeen = true
		adds = append(adds, taintsToAdd...)
	}

	classNames := classStrings(ctx.Classes)
	for _, rule := range p.TaintRules {
		if !rule.Selector.Matches(ctx.ToolName, classNames) {
			continue
		}
		if rule.Pattern != nil {
			applies, err := Eval(rule.Pattern, ctx, celEval)
			if err != nil || !applies {
				continue
			}
		}
		if exceptionApplies(rule.Exceptions, ctx, celEval) {
			continue
		}

		switch rule.Action {
		case AddTaint:
			adds = append(adds, rule.Tag)
			allowSeen = true
		case RemoveTaint:
			removes = append(removes, rule.Tag)
		case CheckTaint, Block:
			violated := taintCheckViolated(rule, ctx)
			if rule.Action == Block {
				violated = true
			}
			if !violated {
				allowSeen = true
				continue
			}
			msg := rule.Error
			if msg == "" {
				msg = "taint rule \"" + rule.ID + "\" denied the request"
			}
			return Deny(rule.ID, msg)
		}
	}

	if !allowSeen {
		return Deny(defaultDenyRuleID, "no rule produced an allow for tool \""+ctx.ToolName+"\", default fail-closed")
	}

	return Allow(adds, removes)
}

func isLethalTrifecta(p Policy, ctx EvaluationContext) bool {
	_ = p.ProtectLethalTrifecta // documented policy-level flag; the check itself is hard-coded and unconditional
	return ctx.HasTaint(taint.AccessPrivate) &&
		ctx.HasTaint(taint.UntrustedSource) &&
		ctx.HasClass(tool.Exfiltration)
}

// evaluateResourceRules returns the decision of the first matching rule
// (after exception inversion), whether any rule matched at all, and the
// taints that rule adds on an allow outcome.
func evaluateResourceRules(rules []ResourceRule, ctx EvaluationContext, celEval CelEvaluator) (Decision, bool, []taint.Tag) {
	for _, rule := range rules {
		if !MatchURIGlob(rule.URIPattern, ctx.URI) {
			continue
		}
		action := rule.Action
		if exceptionApplies(rule.Exceptions, ctx, celEval) {
			if action == ResourceBlock {
				action = ResourceAllow
			} else {
				action = ResourceBlock
			}
		}
		if action == ResourceBlock {
			return Deny(rule.ID, "resource rule \""+rule.ID+"\" blocked \""+ctx.URI+"\""), true, nil
		}
		return Allow(nil, nil), true, rule.TaintsToAdd
	}
	return Decision{}, false, nil
}

// taintCheckViolated reports whether a CHECK_TAINT rule's condition is
// violated: a required tag is missing, or a forbidden tag is present.
func taintCheckViolated(rule TaintRule, ctx EvaluationContext) bool {
	for _, req := range rule.RequiredTags {
		if !ctx.HasTaint(req) {
			return true
		}
	}
	for _, forbidden := range rule.ForbiddenTags {
		if ctx.HasTaint(forbidden) {
			return true
		}
	}
	return false
}

func exceptionApplies(exceptions []Exception, ctx EvaluationContext, celEval CelEvaluator) bool {
	for _, exc := range exceptions {
		ok, err := Eval(exc.When, ctx, celEval)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func classStrings(classes []tool.Class) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = string(c)
	}
	return out
}
