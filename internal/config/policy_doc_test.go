package config

import "testing"

const samplePolicy = `
version: 1
protectLethalTrifecta: true
staticRules:
  list_files: ALLOW
  rm: DENY
taintRules:
  - id: mark-fetch-untrusted
    selector:
      byName: fetch_url
    action: ADD_TAINT
    tag: UNTRUSTED_SOURCE
  - id: require-review
    selector:
      byClass: CONSEQUENTIAL_WRITE
    action: CHECK_TAINT
    requiredTaints:
      - REVIEWED
    error: "consequential writes require review"
resourceRules:
  - id: allow-public
    uriPattern: "public/**"
    action: ALLOW
  - id: deny-rest
    uriPattern: "**"
    action: BLOCK
`

func TestParsePolicyDocumentBasic(t *testing.T) {
	p, err := ParsePolicyDocument([]byte(samplePolicy), nil)
	if err != nil {
		t.Fatalf("ParsePolicyDocument() error: %v", err)
	}
	if len(p.StaticRules) != 2 {
		t.Fatalf("expected 2 static rules, got %d", len(p.StaticRules))
	}
	if len(p.TaintRules) != 2 {
		t.Fatalf("expected 2 taint rules, got %d", len(p.TaintRules))
	}
	if p.TaintRules[1].RequiredTagsAlias != "requiredTaints" {
		t.Fatalf("expected requiredTaints alias recorded, got %q", p.TaintRules[1].RequiredTagsAlias)
	}
	if len(p.ResourceRules) != 2 {
		t.Fatalf("expected 2 resource rules, got %d", len(p.ResourceRules))
	}
	if !p.ProtectLethalTrifecta {
		t.Fatal("expected protectLethalTrifecta true")
	}
}

func TestParsePolicyDocumentRejectsUnknownVersion(t *testing.T) {
	_, err := ParsePolicyDocument([]byte("version: 2\n"), nil)
	if err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
}

func TestParsePolicyDocumentRejectsUnknownField(t *testing.T) {
	_, err := ParsePolicyDocument([]byte("version: 1\nbogusField: true\n"), nil)
	if err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestParsePolicyDocumentRejectsUnknownAction(t *testing.T) {
	_, err := ParsePolicyDocument([]byte("version: 1\nstaticRules:\n  x: MAYBE\n"), nil)
	if err == nil {
		t.Fatal("expected an error for an unrecognized static action")
	}
}

func TestParsePolicyDocumentConditionTree(t *testing.T) {
	doc := `
version: 1
taintRules:
  - id: exception-demo
    selector:
      byName: delete_all
    action: BLOCK
    exceptions:
      - when:
          eq:
            lhs:
              var: args.confirm
            rhs:
              scalar: true
        reason: explicit confirmation
`
	p, err := ParsePolicyDocument([]byte(doc), nil)
	if err != nil {
		t.Fatalf("ParsePolicyDocument() error: %v", err)
	}
	if len(p.TaintRules[0].Exceptions) != 1 {
		t.Fatalf("expected 1 exception, got %d", len(p.TaintRules[0].Exceptions))
	}
}

func TestParsePolicyDocumentCelWithoutCompilerErrors(t *testing.T) {
	doc := `
version: 1
taintRules:
  - id: cel-demo
    selector:
      byName: fetch_url
    action: BLOCK
    pattern:
      cel: 'tool_name == "fetch_url"'
`
	_, err := ParsePolicyDocument([]byte(doc), nil)
	if err == nil {
		t.Fatal("expected an error when a cel condition has no compiler configured")
	}
}
