package policy

import "github.com/sentinelcore/mcpgate/internal/domain/taint"

// Verdict is the coarse outcome of Evaluate.
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictDeny  Verdict = "DENY"
)

// Decision is the engine's output for one request: either an Allow
// carrying the taint-ledger side effects to apply, or a Deny carrying the
// rule that fired and the message to surface to the caller.
type Decision struct {
	Verdict Verdict

	// Populated on VerdictAllow.
	TaintsToAdd    []taint.Tag
	TaintsToRemove []taint.Tag

	// Populated on VerdictDeny.
	RuleID  string
	Message string
}

// Allow builds an allow decision with the given ledger side effects.
func Allow(adds, removes []taint.Tag) Decision {
	return Decision{Verdict: VerdictAllow, TaintsToAdd: adds, TaintsToRemove: removes}
}

// Deny builds a deny decision attributing ruleID and message.
func Deny(ruleID, message string) Decision {
	return Decision{Verdict: VerdictDeny, RuleID: ruleID, Message: message}
}

// IsAllow reports whether the decision permits forwarding the call.
func (d Decision) IsAllow() bool { return d.Verdict == VerdictAllow }
