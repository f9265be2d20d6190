package taint

import "testing"

func TestApplyUnionMinusRemoves(t *testing.T) {
	l := NewLedger()
	l.Apply(Update{Adds: []Tag{AccessPrivate, "CUSTOM"}})
	if !l.Has(AccessPrivate) || !l.Has("CUSTOM") {
		t.Fatal("expected both tags present")
	}
	l.Apply(Update{Removes: []Tag{"CUSTOM"}})
	if l.Has("CUSTOM") {
		t.Fatal("expected CUSTOM removed")
	}
	if !l.Has(AccessPrivate) {
		t.Fatal("expected ACCESS_PRIVATE to remain")
	}
}

func TestApplyEmptyUpdateNoOp(t *testing.T) {
	l := NewLedger()
	l.Apply(Update{Adds: []Tag{AccessPrivate}})
	before := l.TaintSet()
	l.Apply(Update{})
	after := l.TaintSet()
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("empty update changed taint set: %v -> %v", before, after)
	}
}

func TestHistoryBoundedAndTrims(t *testing.T) {
	l := NewLedger()
	for i := 0; i < HistoryLimit+10; i++ {
		seq := l.AllocateSequence()
		l.Apply(Update{Entry: &HistoryEntry{SequenceNumber: seq, ToolName: "t", Decision: DecisionAllow}})
	}
	_, hist := l.Snapshot()
	if len(hist) != HistoryLimit {
		t.Fatalf("expected history capped at %d, got %d", HistoryLimit, len(hist))
	}
	if hist[0].SequenceNumber != 11 {
		t.Fatalf("expected oldest retained entry to be seq 11, got %d", hist[0].SequenceNumber)
	}
}

func TestSequenceNumberStrictlyMonotonic(t *testing.T) {
	l := NewLedger()
	last := 0
	for i := 0; i < 100; i++ {
		seq := l.AllocateSequence()
		if seq <= last {
			t.Fatalf("sequence number %d did not increase from %d", seq, last)
		}
		last = seq
	}
}

func TestHasAllHasAny(t *testing.T) {
	l := NewLedger()
	l.Apply(Update{Adds: []Tag{AccessPrivate}})
	if l.HasAll([]Tag{AccessPrivate, UntrustedSource}) {
		t.Fatal("expected HasAll false when only one tag present")
	}
	if !l.HasAny([]Tag{AccessPrivate, UntrustedSource}) {
		t.Fatal("expected HasAny true")
	}
}
