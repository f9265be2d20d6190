package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sentinelcore/mcpgate/internal/domain/policy"
	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/domain/tool"
)

// policyDocument is the on-disk YAML shape of a policy file. Field names
// use the document's own camelCase spelling rather than Go convention,
// since this struct exists only to mirror the file format.
type policyDocument struct {
	Version               int                    `yaml:"version"`
	ProtectLethalTrifecta bool                   `yaml:"protectLethalTrifecta"`
	StaticRules           map[string]string      `yaml:"staticRules"`
	TaintRules            []taintRuleDoc         `yaml:"taintRules"`
	ResourceRules         []resourceRuleDoc      `yaml:"resourceRules"`

	// ToolClasses is the optional tool-name -> class-list registry. Per
	// the document format, this registry may instead live in a separate
	// companion file parsed the same way; embedding it here costs
	// nothing for documents that omit it.
	ToolClasses map[string][]string `yaml:"toolClasses"`
}

type selectorDoc struct {
	ByName  string `yaml:"byName"`
	ByClass string `yaml:"byClass"`
}

type exceptionDoc struct {
	When   *conditionDoc `yaml:"when"`
	Reason string        `yaml:"reason"`
}

type taintRuleDoc struct {
	ID       string        `yaml:"id"`
	Selector selectorDoc   `yaml:"selector"`
	Action   string        `yaml:"action"`
	Tag      string        `yaml:"tag"`

	// Both spellings are accepted and treated as synonyms; whichever the
	// document used is recorded on the built TaintRule so re-serializing
	// the document does not silently normalize the author's choice away.
	ForbiddenTags []string `yaml:"forbiddenTags"`
	RequiredTags  []string `yaml:"requiredTags"`
	RequiredTaints []string `yaml:"requiredTaints"`

	Error      string         `yaml:"error"`
	Pattern    *conditionDoc  `yaml:"pattern"`
	Exceptions []exceptionDoc `yaml:"exceptions"`
}

type resourceRuleDoc struct {
	ID          string         `yaml:"id"`
	URIPattern  string         `yaml:"uriPattern"`
	Action      string         `yaml:"action"`
	TaintsToAdd []string       `yaml:"taintsToAdd"`
	Exceptions  []exceptionDoc `yaml:"exceptions"`
}

// conditionDoc is the YAML shape of a LogicCondition: exactly one of its
// fields is set, selecting the variant.
type conditionDoc struct {
	And            []conditionDoc         `yaml:"and"`
	Or             []conditionDoc         `yaml:"or"`
	Not            *conditionDoc          `yaml:"not"`
	Eq             *binaryDoc             `yaml:"eq"`
	Neq            *binaryDoc             `yaml:"neq"`
	Gt             *binaryDoc             `yaml:"gt"`
	Lt             *binaryDoc             `yaml:"lt"`
	ToolArgsMatch  map[string]interface{} `yaml:"toolArgsMatch"`
	Literal        *bool                  `yaml:"literal"`
	Var            string                 `yaml:"var"`
	Scalar         interface{}            `yaml:"scalar"`
	Cel            string                 `yaml:"cel"`
}

type binaryDoc struct {
	LHS conditionDoc `yaml:"lhs"`
	RHS conditionDoc `yaml:"rhs"`
}

// CelCompiler compiles a CEL expression into the opaque handle a
// policy.CelExpr.Program field holds. internal/adapter/outbound/cel.Evaluator
// implements this via its CompileAny method, keeping cel-go out of this
// package's import graph.
type CelCompiler interface {
	CompileAny(expression string) (interface{}, error)
}

// LoadPolicyDocument reads and parses a policy document from path,
// compiling any CelExpr conditions through compiler. compiler may be nil
// if the document is known to contain no "cel" conditions; a document
// that does and gets a nil compiler fails to load with a clear error
// rather than deferring the failure to first evaluation.
func LoadPolicyDocument(path string, compiler CelCompiler) (policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("config: reading policy document: %w", err)
	}
	return ParsePolicyDocument(data, compiler)
}

// ParsePolicyDocument parses a policy document's raw YAML bytes. Unknown
// top-level and nested keys are rejected (yaml.v3's KnownFields), since a
// silently-ignored typo in a security policy is worse than a load error.
func ParsePolicyDocument(data []byte, compiler CelCompiler) (policy.Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc policyDocument
	if err := dec.Decode(&doc); err != nil {
		return policy.Policy{}, fmt.Errorf("config: parsing policy document: %w", err)
	}
	if doc.Version != 1 {
		return policy.Policy{}, fmt.Errorf("config: unsupported policy document version %d (expected 1)", doc.Version)
	}

	staticRules := make(map[string]policy.StaticAction, len(doc.StaticRules))
	for name, action := range doc.StaticRules {
		switch action {
		case "ALLOW":
			staticRules[name] = policy.StaticAllow
		case "DENY":
			staticRules[name] = policy.StaticDeny
		default:
			return policy.Policy{}, fmt.Errorf("config: staticRules[%s]: unknown action %q", name, action)
		}
	}

	taintRules := make([]policy.TaintRule, 0, len(doc.TaintRules))
	for _, rd := range doc.TaintRules {
		rule, err := buildTaintRule(rd, compiler)
		if err != nil {
			return policy.Policy{}, err
		}
		taintRules = append(taintRules, rule)
	}

	resourceRules := make([]policy.ResourceRule, 0, len(doc.ResourceRules))
	for _, rd := range doc.ResourceRules {
		rule, err := buildResourceRule(rd, compiler)
		if err != nil {
			return policy.Policy{}, err
		}
		resourceRules = append(resourceRules, rule)
	}

	return policy.Policy{
		StaticRules:           staticRules,
		TaintRules:            taintRules,
		ResourceRules:         resourceRules,
		ProtectLethalTrifecta: doc.ProtectLethalTrifecta,
	}, nil
}

// LoadToolRegistry reads the tool-class registry from the same document
// LoadPolicyDocument reads (its optional toolClasses section), since the
// format allows the registry to be embedded rather than kept separately.
// A document with no toolClasses section yields an empty, non-nil
// registry: every tool is simply unclassified.
func LoadToolRegistry(path string) (*tool.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading policy document: %w", err)
	}
	return BuildToolRegistry(data)
}

// BuildToolRegistry parses a policy document's raw bytes and builds its
// tool-class registry, validating every class name against the closed
// tool.Class enum so a typo fails at load time rather than silently
// leaving a tool unclassified.
func BuildToolRegistry(data []byte) (*tool.Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc policyDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: parsing policy document: %w", err)
	}

	mapping := make(map[tool.Name][]tool.Class, len(doc.ToolClasses))
	for name, classNames := range doc.ToolClasses {
		classes := make([]tool.Class, 0, len(classNames))
		for _, c := range classNames {
			class := tool.Class(c)
			if !class.IsValid() {
				return nil, fmt.Errorf("config: toolClasses[%s]: unknown class %q", name, c)
			}
			classes = append(classes, class)
		}
		mapping[tool.Name(name)] = classes
	}
	return tool.NewRegistry(mapping)
}

func buildTaintRule(rd taintRuleDoc, compiler CelCompiler) (policy.TaintRule, error) {
	var action policy.TaintAction
	switch rd.Action {
	case "ADD_TAINT":
		action = policy.AddTaint
	case "REMOVE_TAINT":
		action = policy.RemoveTaint
	case "CHECK_TAINT":
		action = policy.CheckTaint
	case "BLOCK":
		action = policy.Block
	default:
		return policy.TaintRule{}, fmt.Errorf("config: taintRules[%s]: unknown action %q", rd.ID, rd.Action)
	}

	required, alias, err := mergeRequiredTagAliases(rd.RequiredTags, rd.RequiredTaints)
	if err != nil {
		return policy.TaintRule{}, fmt.Errorf("config: taintRules[%s]: %w", rd.ID, err)
	}

	pattern, err := buildCondition(rd.Pattern, compiler)
	if err != nil {
		return policy.TaintRule{}, fmt.Errorf("config: taintRules[%s].pattern: %w", rd.ID, err)
	}
	exceptions, err := buildExceptions(rd.Exceptions, compiler)
	if err != nil {
		return policy.TaintRule{}, fmt.Errorf("config: taintRules[%s].exceptions: %w", rd.ID, err)
	}

	return policy.TaintRule{
		ID:                rd.ID,
		Selector:          policy.Selector{ByName: rd.Selector.ByName, ByClass: rd.Selector.ByClass},
		Action:            action,
		Tag:               taint.Tag(rd.Tag),
		ForbiddenTags:     toTags(rd.ForbiddenTags),
		RequiredTags:      required,
		Error:             rd.Error,
		Pattern:           pattern,
		Exceptions:        exceptions,
		RequiredTagsAlias: alias,
	}, nil
}

// mergeRequiredTagAliases treats requiredTags and requiredTaints as
// synonyms. A document specifying both is an error: that almost
// certainly reflects the author mixing the two spellings by mistake
// rather than intending two independent lists.
func mergeRequiredTagAliases(requiredTags, requiredTaints []string) ([]taint.Tag, string, error) {
	switch {
	case len(requiredTags) > 0 && len(requiredTaints) > 0:
		return nil, "", fmt.Errorf("requiredTags and requiredTaints are synonyms; specify only one")
	case len(requiredTags) > 0:
		return toTags(requiredTags), "requiredTags", nil
	case len(requiredTaints) > 0:
		return toTags(requiredTaints), "requiredTaints", nil
	default:
		return nil, "", nil
	}
}

func buildResourceRule(rd resourceRuleDoc, compiler CelCompiler) (policy.ResourceRule, error) {
	var action policy.ResourceAction
	switch rd.Action {
	case "ALLOW":
		action = policy.ResourceAllow
	case "BLOCK":
		action = policy.ResourceBlock
	default:
		return policy.ResourceRule{}, fmt.Errorf("config: resourceRules[%s]: unknown action %q", rd.ID, rd.Action)
	}
	exceptions, err := buildExceptions(rd.Exceptions, compiler)
	if err != nil {
		return policy.ResourceRule{}, fmt.Errorf("config: resourceRules[%s].exceptions: %w", rd.ID, err)
	}
	return policy.ResourceRule{
		ID:          rd.ID,
		URIPattern:  rd.URIPattern,
		Action:      action,
		TaintsToAdd: toTags(rd.TaintsToAdd),
		Exceptions:  exceptions,
	}, nil
}

func buildExceptions(docs []exceptionDoc, compiler CelCompiler) ([]policy.Exception, error) {
	out := make([]policy.Exception, 0, len(docs))
	for _, ed := range docs {
		cond, err := buildCondition(ed.When, compiler)
		if err != nil {
			return nil, err
		}
		out = append(out, policy.Exception{When: cond, Reason: ed.Reason})
	}
	return out, nil
}

// buildCondition recursively converts a conditionDoc into a
// policy.LogicCondition. A nil doc yields a nil condition ("always
// applies"/"always true"), matching TaintRule.Pattern's documented zero
// value.
func buildCondition(d *conditionDoc, compiler CelCompiler) (policy.LogicCondition, error) {
	if d == nil {
		return nil, nil
	}
	switch {
	case d.And != nil:
		children, err := buildConditionList(d.And, compiler)
		if err != nil {
			return nil, err
		}
		return policy.And{Children: children}, nil
	case d.Or != nil:
		children, err := buildConditionList(d.Or, compiler)
		if err != nil {
			return nil, err
		}
		return policy.Or{Children: children}, nil
	case d.Not != nil:
		child, err := buildCondition(d.Not, compiler)
		if err != nil {
			return nil, err
		}
		return policy.Not{Child: child}, nil
	case d.Eq != nil:
		return buildBinary(*d.Eq, compiler, func(l, r policy.LogicCondition) policy.LogicCondition { return policy.Eq{LHS: l, RHS: r} })
	case d.Neq != nil:
		return buildBinary(*d.Neq, compiler, func(l, r policy.LogicCondition) policy.LogicCondition { return policy.Neq{LHS: l, RHS: r} })
	case d.Gt != nil:
		return buildBinary(*d.Gt, compiler, func(l, r policy.LogicCondition) policy.LogicCondition { return policy.Gt{LHS: l, RHS: r} })
	case d.Lt != nil:
		return buildBinary(*d.Lt, compiler, func(l, r policy.LogicCondition) policy.LogicCondition { return policy.Lt{LHS: l, RHS: r} })
	case d.ToolArgsMatch != nil:
		return policy.ToolArgsMatch{Schema: d.ToolArgsMatch}, nil
	case d.Literal != nil:
		return policy.Literal{Value: *d.Literal}, nil
	case d.Var != "":
		return policy.Var{Path: d.Var}, nil
	case d.Scalar != nil:
		return policy.NewScalar(d.Scalar), nil
	case d.Cel != "":
		if compiler == nil {
			return nil, fmt.Errorf("policy document uses a cel condition %q but no CEL compiler was configured", d.Cel)
		}
		program, err := compiler.CompileAny(d.Cel)
		if err != nil {
			return nil, fmt.Errorf("compiling cel expression %q: %w", d.Cel, err)
		}
		return policy.CelExpr{Expression: d.Cel, Program: program}, nil
	default:
		return nil, fmt.Errorf("condition has no recognized variant set")
	}
}

func buildConditionList(docs []conditionDoc, compiler CelCompiler) ([]policy.LogicCondition, error) {
	out := make([]policy.LogicCondition, 0, len(docs))
	for i := range docs {
		cond, err := buildCondition(&docs[i], compiler)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func buildBinary(b binaryDoc, compiler CelCompiler, make_ func(l, r policy.LogicCondition) policy.LogicCondition) (policy.LogicCondition, error) {
	lhs, err := buildCondition(&b.LHS, compiler)
	if err != nil {
		return nil, err
	}
	rhs, err := buildCondition(&b.RHS, compiler)
	if err != nil {
		return nil, err
	}
	return make_(lhs, rhs), nil
}

func toTags(in []string) []taint.Tag {
	if in == nil {
		return nil
	}
	out := make([]taint.Tag, len(in))
	for i, s := range in {
		out[i] = taint.Tag(s)
	}
	return out
}
