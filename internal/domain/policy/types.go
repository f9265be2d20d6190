package policy

import "github.com/sentinelcore/mcpgate/internal/domain/taint"

// StaticAction is the static-rule verdict for a tool name.
type StaticAction string

const (
	StaticAllow StaticAction = "ALLOW"
	StaticDeny  StaticAction = "DENY"
)

// TaintAction is the action a TaintRule performs when it applies.
type TaintAction string

const (
	AddTaint    TaintAction = "ADD_TAINT"
	RemoveTaint TaintAction = "REMOVE_TAINT"
	CheckTaint  TaintAction = "CHECK_TAINT"
	Block       TaintAction = "BLOCK"
)

// ResourceAction is the verdict a ResourceRule applies once its glob
// matches.
type ResourceAction string

const (
	ResourceAllow ResourceAction = "ALLOW"
	ResourceBlock ResourceAction = "BLOCK"
)

// Selector picks which tool invocations a TaintRule applies to: either an
// exact tool name, or any tool annotated with a given class. Exactly one
// of ByName/ByClass is set.
type Selector struct {
	ByName  string
	ByClass string
}

// Matches reports whether the selector matches toolName/classes.
func (s Selector) Matches(toolName string, classes []string) bool {
	if s.ByName != "" {
		return s.ByName == toolName
	}
	if s.ByClass != "" {
		for _, c := range classes {
			if c == s.ByClass {
				return true
			}
		}
		return false
	}
	return false
}

// Exception is a conditional override evaluated in declaration order; the
// first exception whose When condition is true inverts a ResourceRule's
// action, or makes a TaintRule skip this request entirely.
type Exception struct {
	When   LogicCondition
	Reason string
}

// TaintRule is one entry of Policy.TaintRules, evaluated in declaration
// order against every tool-invocation request whose selector matches.
type TaintRule struct {
	ID             string
	Selector       Selector
	Action         TaintAction
	Tag            taint.Tag
	ForbiddenTags  []taint.Tag
	RequiredTags   []taint.Tag
	Error          string
	Pattern        LogicCondition // optional; nil means "always applies"
	Exceptions     []Exception
	// RequiredTagsAlias records which YAML spelling ("requiredTags" vs
	// "requiredTaints") this rule was loaded with, purely so a policy
	// document can be re-serialized without silently normalizing the
	// author's chosen spelling away.
	RequiredTagsAlias string
}

// ResourceRule is one entry of Policy.ResourceRules, matched against
// resources/read URIs in declaration order; the first matching rule wins.
type ResourceRule struct {
	ID           string
	URIPattern   string
	Action       ResourceAction
	TaintsToAdd  []taint.Tag
	Exceptions   []Exception
}

// Policy is the full aggregate the engine evaluates a request against.
type Policy struct {
	StaticRules          map[string]StaticAction
	TaintRules           []TaintRule
	ResourceRules        []ResourceRule
	ProtectLethalTrifecta bool
}
