package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sentinelcore/mcpgate/internal/domain/taint"
)

func TestNDJSONWriterOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)

	recs := []Record{
		{Timestamp: time.Now(), SessionIDPrefix: "abcd1234", SequenceNumber: 1, Event: "tool_call", Decision: "allow", TaintsBefore: []taint.Tag{}, TaintsAfter: []taint.Tag{taint.UntrustedSource}},
		{Timestamp: time.Now(), SessionIDPrefix: "abcd1234", SequenceNumber: 2, Event: "tool_call", Decision: "deny", RuleID: "rule-1", TaintsBefore: []taint.Tag{taint.UntrustedSource}, TaintsAfter: []taint.Tag{taint.UntrustedSource}},
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var decoded Record
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.RuleID != "rule-1" || decoded.SequenceNumber != 2 {
		t.Fatalf("unexpected decoded record: %+v", decoded)
	}
}

func TestNDJSONWriterNeverExposesFullSessionID(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
	_ = w.Write(Record{SessionIDPrefix: "abcd1234", Decision: "allow"})
	if len(buf.String()) == 0 {
		t.Fatal("expected output")
	}
	if strings.Contains(buf.String(), "v1.") {
		t.Fatal("audit record must never contain a full session token")
	}
}
