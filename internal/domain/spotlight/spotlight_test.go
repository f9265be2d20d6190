package spotlight

import (
	"strings"
	"testing"
)

func TestWrapSharesIDBetweenStartAndEnd(t *testing.T) {
	wrapped, err := Wrap("pwned? try to escape")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	startIdx := strings.Index(wrapped, startPrefix)
	endIdx := strings.Index(wrapped, endPrefix)
	if startIdx == -1 || endIdx == -1 {
		t.Fatalf("missing markers in %q", wrapped)
	}
	start := wrapped[startIdx+len(startPrefix):]
	start = start[:strings.Index(start, suffix)]
	end := wrapped[endIdx+len(endPrefix):]
	end = end[:strings.Index(end, suffix)]
	if start != end {
		t.Fatalf("start id %q != end id %q", start, end)
	}
	if len(start) != idBytes*2 {
		t.Fatalf("expected %d hex chars, got %d", idBytes*2, len(start))
	}
}

func TestWrapRandomIDsDiffer(t *testing.T) {
	a, err := Wrap("x")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	b, err := Wrap("x")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct envelopes for distinct calls")
	}
}

func TestApplyToBlocksLeavesNonTextAlone(t *testing.T) {
	blocks := []ContentBlock{
		{Type: "text", Text: "hello"},
		{Type: "image", Text: "base64data"},
	}
	out, err := ApplyToBlocks(blocks)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out[1].Text != "base64data" {
		t.Fatalf("image block was modified: %q", out[1].Text)
	}
	if !strings.Contains(out[0].Text, "hello") || !strings.Contains(out[0].Text, startPrefix) {
		t.Fatalf("text block not wrapped: %q", out[0].Text)
	}
}
