package policy

import (
	"testing"

	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/domain/tool"
)

func baseCtx(toolName string, classes ...tool.Class) EvaluationContext {
	return EvaluationContext{ToolName: toolName, Classes: classes}
}

func TestDefaultFailClosedWithNoStaticRule(t *testing.T) {
	p := Policy{StaticRules: map[string]StaticAction{}}
	d := Evaluate(p, baseCtx("unknown_tool"), nil)
	if d.IsAllow() {
		t.Fatal("expected deny for a tool with no static rule")
	}
	if d.RuleID != defaultDenyRuleID {
		t.Fatalf("expected default-fail-closed rule id, got %q", d.RuleID)
	}
}

func TestAbsentStaticRuleFallsThroughToTaintRuleAllow(t *testing.T) {
	p := Policy{
		StaticRules: map[string]StaticAction{},
		TaintRules: []TaintRule{
			{ID: "mark-untrusted", Selector: Selector{ByName: "fetch_url"}, Action: AddTaint, Tag: taint.UntrustedSource},
		},
	}
	d := Evaluate(p, baseCtx("fetch_url"), nil)
	if !d.IsAllow() {
		t.Fatalf("expected a taint rule's ADD_TAINT to allow despite no static rule, got deny %q: %s", d.RuleID, d.Message)
	}
}

func TestAbsentStaticRuleAndNoMatchingTaintRuleStillDenies(t *testing.T) {
	p := Policy{
		StaticRules: map[string]StaticAction{},
		TaintRules: []TaintRule{
			{ID: "unrelated", Selector: Selector{ByName: "other_tool"}, Action: AddTaint, Tag: taint.UntrustedSource},
		},
	}
	d := Evaluate(p, baseCtx("fetch_url"), nil)
	if d.IsAllow() {
		t.Fatal("expected deny: no static rule and no applicable taint rule allowed it")
	}
	if d.RuleID != defaultDenyRuleID {
		t.Fatalf("expected default-fail-closed rule id, got %q", d.RuleID)
	}
}

func TestStaticDenyIsImmediate(t *testing.T) {
	p := Policy{StaticRules: map[string]StaticAction{"rm": StaticDeny}}
	d := Evaluate(p, baseCtx("rm"), nil)
	if d.IsAllow() {
		t.Fatal("expected static deny")
	}
}

func TestStaticAllowWithNoTaintRulesAllows(t *testing.T) {
	p := Policy{StaticRules: map[string]StaticAction{"list_files": StaticAllow}}
	d := Evaluate(p, baseCtx("list_files", tool.SafeRead), nil)
	if !d.IsAllow() {
		t.Fatalf("expected allow, got deny %q: %s", d.RuleID, d.Message)
	}
}

func TestLethalTrifectaOverridesEverything(t *testing.T) {
	p := Policy{
		ProtectLethalTrifecta: true,
		StaticRules:           map[string]StaticAction{"send_email": StaticAllow},
	}
	ctx := baseCtx("send_email", tool.Exfiltration)
	ctx.Taints = []taint.Tag{taint.AccessPrivate, taint.UntrustedSource}
	d := Evaluate(p, ctx, nil)
	if d.IsAllow() {
		t.Fatal("expected lethal-trifecta deny despite static allow")
	}
	if d.RuleID != lethalTrifectaRuleID {
		t.Fatalf("expected lethal-trifecta rule id, got %q", d.RuleID)
	}
}

func TestLethalTrifectaRequiresAllThreeConditions(t *testing.T) {
	p := Policy{StaticRules: map[string]StaticAction{"send_email": StaticAllow}}
	ctx := baseCtx("send_email", tool.Exfiltration)
	ctx.Taints = []taint.Tag{taint.AccessPrivate} // missing UntrustedSource
	d := Evaluate(p, ctx, nil)
	if !d.IsAllow() {
		t.Fatal("expected allow when only two of three trifecta conditions hold")
	}
}

func TestCheckTaintDeniesWhenRequiredTagMissing(t *testing.T) {
	p := Policy{
		StaticRules: map[string]StaticAction{"write_file": StaticAllow},
		TaintRules: []TaintRule{
			{
				ID:           "require-reviewed",
				Selector:     Selector{ByName: "write_file"},
				Action:       CheckTaint,
				RequiredTags: []taint.Tag{"REVIEWED"},
				Error:        "write_file requires REVIEWED taint",
			},
		},
	}
	d := Evaluate(p, baseCtx("write_file"), nil)
	if d.IsAllow() {
		t.Fatal("expected deny: required taint missing")
	}
	if d.Message != "write_file requires REVIEWED taint" {
		t.Fatalf("unexpected message: %s", d.Message)
	}
}

func TestCheckTaintAllowsWhenRequiredTagPresent(t *testing.T) {
	p := Policy{
		StaticRules: map[string]StaticAction{"write_file": StaticAllow},
		TaintRules: []TaintRule{
			{ID: "require-reviewed", Selector: Selector{ByName: "write_file"}, Action: CheckTaint, RequiredTags: []taint.Tag{"REVIEWED"}},
		},
	}
	ctx := baseCtx("write_file")
	ctx.Taints = []taint.Tag{"REVIEWED"}
	d := Evaluate(p, ctx, nil)
	if !d.IsAllow() {
		t.Fatalf("expected allow, got deny: %s", d.Message)
	}
}

func TestForbiddenTagDenies(t *testing.T) {
	p := Policy{
		StaticRules: map[string]StaticAction{"exec_shell": StaticAllow},
		TaintRules: []TaintRule{
			{ID: "no-untrusted-exec", Selector: Selector{ByClass: string(tool.UnsafeExecute)}, Action: CheckTaint, ForbiddenTags: []taint.Tag{taint.UntrustedSource}},
		},
	}
	ctx := baseCtx("exec_shell", tool.UnsafeExecute)
	ctx.Taints = []taint.Tag{taint.UntrustedSource}
	d := Evaluate(p, ctx, nil)
	if d.IsAllow() {
		t.Fatal("expected deny: forbidden taint present")
	}
}

func TestExceptionInvertsBlock(t *testing.T) {
	p := Policy{
		StaticRules: map[string]StaticAction{"delete_all": StaticAllow},
		TaintRules: []TaintRule{
			{
				ID:       "block-delete-all",
				Selector: Selector{ByName: "delete_all"},
				Action:   Block,
				Exceptions: []Exception{
					{When: Eq{LHS: Var{Path: "args.confirm"}, RHS: NewScalar(true)}, Reason: "explicit confirmation"},
				},
			},
		},
	}
	denied := Evaluate(p, baseCtx("delete_all"), nil)
	if denied.IsAllow() {
		t.Fatal("expected block without the exception condition")
	}

	ctx := baseCtx("delete_all")
	ctx.Args = map[string]interface{}{"confirm": true}
	allowed := Evaluate(p, ctx, nil)
	if !allowed.IsAllow() {
		t.Fatal("expected exception to invert the block")
	}
}

func TestAddTaintAccumulatesAcrossRules(t *testing.T) {
	p := Policy{
		StaticRules: map[string]StaticAction{"fetch_url": StaticAllow},
		TaintRules: []TaintRule{
			{ID: "mark-untrusted", Selector: Selector{ByName: "fetch_url"}, Action: AddTaint, Tag: taint.UntrustedSource},
			{ID: "mark-private", Selector: Selector{ByName: "fetch_url"}, Action: AddTaint, Tag: taint.AccessPrivate},
		},
	}
	d := Evaluate(p, baseCtx("fetch_url"), nil)
	if !d.IsAllow() {
		t.Fatalf("expected allow, got deny: %s", d.Message)
	}
	if len(d.TaintsToAdd) != 2 {
		t.Fatalf("expected 2 taints queued, got %v", d.TaintsToAdd)
	}
}

func TestResourceRuleDefaultDenyWhenNoMatch(t *testing.T) {
	p := Policy{ResourceRules: []ResourceRule{{ID: "public", URIPattern: "public/**", Action: ResourceAllow}}}
	ctx := EvaluationContext{URI: "secret/keys.pem"}
	d := Evaluate(p, ctx, nil)
	if d.IsAllow() {
		t.Fatal("expected default deny for unmatched resource URI")
	}
}

func TestResourceRuleFirstMatchWins(t *testing.T) {
	p := Policy{ResourceRules: []ResourceRule{
		{ID: "allow-public", URIPattern: "public/**", Action: ResourceAllow},
		{ID: "deny-all", URIPattern: "**", Action: ResourceBlock},
	}}
	d := Evaluate(p, EvaluationContext{URI: "public/readme.md"}, nil)
	if !d.IsAllow() {
		t.Fatalf("expected first-match allow, got deny: %s", d.Message)
	}
}

func TestEmptyAndIsTrueEmptyOrIsFalse(t *testing.T) {
	ok, err := Eval(And{}, EvaluationContext{}, nil)
	if err != nil || !ok {
		t.Fatal("empty And must evaluate true")
	}
	ok, err = Eval(Or{}, EvaluationContext{}, nil)
	if err != nil || ok {
		t.Fatal("empty Or must evaluate false")
	}
}

func TestGtLtNullOperandIsFalse(t *testing.T) {
	ctx := EvaluationContext{Args: map[string]interface{}{}}
	ok, err := Eval(Gt{LHS: Var{Path: "args.missing"}, RHS: NewScalar(1.0)}, ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("Gt against a null operand must be false")
	}
}

func TestToolArgsMatchGlob(t *testing.T) {
	schema := map[string]interface{}{"path": "/tmp/*"}
	ctx := EvaluationContext{Args: map[string]interface{}{"path": "/tmp/scratch.txt"}}
	ok, err := Eval(ToolArgsMatch{Schema: schema}, ctx, nil)
	if err != nil || !ok {
		t.Fatalf("expected glob match, err=%v ok=%v", err, ok)
	}
	ctx.Args["path"] = "/etc/passwd"
	ok, _ = Eval(ToolArgsMatch{Schema: schema}, ctx, nil)
	if ok {
		t.Fatal("expected glob mismatch")
	}
}

func TestResourceGlobDoubleStarCrossesSegments(t *testing.T) {
	if !MatchURIGlob("docs/**/*.md", "docs/a/b/c.md") {
		t.Fatal("expected ** to cross multiple segments")
	}
	if MatchURIGlob("docs/*.md", "docs/a/b.md") {
		t.Fatal("single * must not cross a segment boundary")
	}
}
