package dispatch

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sentinelcore/mcpgate/internal/domain/policy"
	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/wire"
)

func toolCallRequest(t *testing.T, id, name string, args map[string]interface{}) *wire.Message {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return wire.Wrap(raw, wire.Agent)
}

func TestDispatchAgentMessageRejectsBeforeHandshake(t *testing.T) {
	m := NewMachine()
	corr := NewCorrelationTable()
	deps := Deps{Policy: policy.Policy{}, Ledger: taint.NewLedger()}
	msg := toolCallRequest(t, "1", "read_file", nil)

	action := DispatchAgentMessage(m, corr, deps, msg)
	if action.Kind != ActionRespondError {
		t.Fatalf("expected ActionRespondError before handshake, got %v", action.Kind)
	}
	if !strings.Contains(string(action.Payload), "-32002") {
		t.Fatalf("expected not-initialized error code in payload: %s", action.Payload)
	}
}

func TestDispatchAgentMessageAllowsInitializeBeforeHandshake(t *testing.T) {
	m := NewMachine()
	corr := NewCorrelationTable()
	deps := Deps{Policy: policy.Policy{}, Ledger: taint.NewLedger()}
	raw := []byte(`{"jsonrpc":"2.0","id":"1","method":"initialize","params":{}}`)
	msg := wire.Wrap(raw, wire.Agent)

	action := DispatchAgentMessage(m, corr, deps, msg)
	if action.Kind != ActionForward {
		t.Fatalf("expected initialize to forward, got %v", action.Kind)
	}
}

func TestDispatchAgentMessageDeniesByDefault(t *testing.T) {
	m := NewMachine()
	_ = m.Transition(Serving)
	corr := NewCorrelationTable()
	deps := Deps{Policy: policy.Policy{}, Ledger: taint.NewLedger()}
	msg := toolCallRequest(t, "1", "read_file", nil)

	action := DispatchAgentMessage(m, corr, deps, msg)
	if action.Kind != ActionRespondError {
		t.Fatalf("expected deny-by-default to respond with error, got %v", action.Kind)
	}
	if !strings.Contains(string(action.Payload), "policy_violation") {
		t.Fatalf("expected policy_violation in payload: %s", action.Payload)
	}
	if action.Audit == nil || action.Audit.Decision != "deny" {
		t.Fatalf("expected a deny audit event, got %+v", action.Audit)
	}
}

func TestDispatchAgentMessageAllowsStaticRule(t *testing.T) {
	m := NewMachine()
	_ = m.Transition(Serving)
	corr := NewCorrelationTable()
	pol := policy.Policy{StaticRules: map[string]policy.StaticAction{"read_file": policy.StaticAllow}}
	deps := Deps{Policy: pol, Ledger: taint.NewLedger()}
	msg := toolCallRequest(t, "1", "read_file", nil)

	action := DispatchAgentMessage(m, corr, deps, msg)
	if action.Kind != ActionForward {
		t.Fatalf("expected allow to forward, got %v", action.Kind)
	}
	if action.Pending == nil {
		t.Fatal("expected a PendingRequest for an allowed tool call")
	}
	if action.Pending.ToolName != "read_file" {
		t.Fatalf("unexpected pending tool name %q", action.Pending.ToolName)
	}
}

func TestDispatchAgentMessageRejectsDuplicateID(t *testing.T) {
	m := NewMachine()
	_ = m.Transition(Serving)
	corr := NewCorrelationTable()
	_ = corr.Add("1", PendingRequest{ToolName: "read_file"})
	pol := policy.Policy{StaticRules: map[string]policy.StaticAction{"read_file": policy.StaticAllow}}
	deps := Deps{Policy: pol, Ledger: taint.NewLedger()}
	msg := toolCallRequest(t, "1", "read_file", nil)

	action := DispatchAgentMessage(m, corr, deps, msg)
	if action.Kind != ActionRespondError {
		t.Fatalf("expected duplicate id to be rejected, got %v", action.Kind)
	}
	if !corr.Has("1") {
		t.Fatal("duplicate-id detection must not consume the original pending entry")
	}
}

func TestDispatchAgentMessageDrainingDropsNotifications(t *testing.T) {
	m := NewMachine()
	_ = m.Transition(Serving)
	_ = m.Transition(Draining)
	corr := NewCorrelationTable()
	deps := Deps{Ledger: taint.NewLedger()}
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`)
	msg := wire.Wrap(raw, wire.Agent)

	action := DispatchAgentMessage(m, corr, deps, msg)
	if action.Kind != ActionDrop {
		t.Fatalf("expected notification to drop while draining, got %v", action.Kind)
	}
}

func TestDispatchAgentMessageDrainingRejectsNewRequests(t *testing.T) {
	m := NewMachine()
	_ = m.Transition(Serving)
	_ = m.Transition(Draining)
	corr := NewCorrelationTable()
	deps := Deps{Ledger: taint.NewLedger()}
	msg := toolCallRequest(t, "1", "read_file", nil)

	action := DispatchAgentMessage(m, corr, deps, msg)
	if action.Kind != ActionRespondError {
		t.Fatalf("expected draining to reject new requests, got %v", action.Kind)
	}
}

func TestDispatchChildMessagePassesThroughNonResponse(t *testing.T) {
	corr := NewCorrelationTable()
	ledger := taint.NewLedger()
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/message","params":{}}`)
	msg := wire.Wrap(raw, wire.Child)

	action := DispatchChildMessage(corr, ledger, msg)
	if action.Kind != ActionForward || string(action.Payload) != string(raw) {
		t.Fatalf("expected unmodified passthrough, got %v / %s", action.Kind, action.Payload)
	}
}

func TestDispatchChildMessageSpotlightsSamplingRequest(t *testing.T) {
	corr := NewCorrelationTable()
	ledger := taint.NewLedger()
	raw := []byte(`{"jsonrpc":"2.0","id":"srv-1","method":"sampling/createMessage","params":{"messages":[{"role":"user","content":{"type":"text","text":"tool output here"}}]}}`)
	msg := wire.Wrap(raw, wire.Child)

	action := DispatchChildMessage(corr, ledger, msg)
	if action.Kind != ActionForward {
		t.Fatalf("expected sampling request to forward unenforced, got %v", action.Kind)
	}
	if strings.Contains(string(action.Payload), `"text":"tool output here"`) {
		t.Fatalf("expected sampling message content to be spotlighted, got %s", action.Payload)
	}
	if !strings.Contains(string(action.Payload), "SENTINEL_DATA_START") {
		t.Fatalf("expected spotlight markers in payload: %s", action.Payload)
	}
	if action.Audit != nil {
		t.Fatalf("server-initiated requests are not policy decisions, expected no audit event, got %+v", action.Audit)
	}
}

func TestDispatchChildMessageFinalizesMatchedResponse(t *testing.T) {
	corr := NewCorrelationTable()
	ledger := taint.NewLedger()
	seq := ledger.AllocateSequence()
	_ = corr.Add("1", PendingRequest{ToolName: "read_file", Sequence: seq})

	raw := []byte(`{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"hello"}]}}`)
	msg := wire.Wrap(raw, wire.Child)

	action := DispatchChildMessage(corr, ledger, msg)
	if action.Kind != ActionForward {
		t.Fatalf("expected forward, got %v", action.Kind)
	}
	if strings.Contains(string(action.Payload), "\"text\":\"hello\"") {
		t.Fatalf("expected text block to be spotlighted, got %s", action.Payload)
	}
	if !strings.Contains(string(action.Payload), "SENTINEL_DATA_START") {
		t.Fatalf("expected spotlight markers in payload: %s", action.Payload)
	}
	if corr.Has("1") {
		t.Fatal("expected the pending entry to be consumed")
	}
	_, history := ledger.Snapshot()
	if len(history) != 1 || history[0].Decision != taint.DecisionAllow {
		t.Fatalf("expected one allow history entry, got %+v", history)
	}
	if action.Audit == nil || action.Audit.Decision != string(taint.DecisionAllow) {
		t.Fatalf("expected an allow audit event, got %+v", action.Audit)
	}
}

func TestDispatchChildMessagePassesThroughUnsolicitedResponse(t *testing.T) {
	corr := NewCorrelationTable()
	ledger := taint.NewLedger()
	raw := []byte(`{"jsonrpc":"2.0","id":"99","result":{}}`)
	msg := wire.Wrap(raw, wire.Child)

	action := DispatchChildMessage(corr, ledger, msg)
	if action.Kind != ActionForward || string(action.Payload) != string(raw) {
		t.Fatalf("expected unsolicited response to pass through unmodified, got %v / %s", action.Kind, action.Payload)
	}
}
