package dispatch

import (
	"encoding/json"

	"github.com/sentinelcore/mcpgate/internal/domain/canon"
	"github.com/sentinelcore/mcpgate/internal/domain/policy"
	"github.com/sentinelcore/mcpgate/internal/domain/spotlight"
	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/domain/tool"
	"github.com/sentinelcore/mcpgate/internal/domain/wireerr"
	"github.com/sentinelcore/mcpgate/internal/wire"
)

// ActionKind tells the service layer what to do with a processed
// message.
type ActionKind int

const (
	// ActionForward: write Payload to the child unmodified.
	ActionForward ActionKind = iota
	// ActionRespondError: write Payload directly back to the agent; do
	// not forward anything to the child.
	ActionRespondError
	// ActionDrop: do nothing; the message requires no response (e.g. a
	// notification rejected while draining).
	ActionDrop
)

// Action is the dispatcher's verdict for one inbound agent message.
type Action struct {
	Kind    ActionKind
	Payload []byte
	// Pending is set alongside ActionForward for a tools/call or
	// resources/read request: the service layer must register it in the
	// session's CorrelationTable under the request's raw id before
	// writing Payload to the child.
	Pending *PendingRequest
	// Audit is set whenever this Action represents a recordable policy
	// decision (a denial, or a finalized allow), for the service layer to
	// hand to its audit logger. Nil for passthrough/handshake/drain
	// actions that never reached the policy engine.
	Audit *AuditEvent
}

// Deps bundles the session-scoped state a request decision reads and
// books against: the policy document, the CEL evaluator backing any
// CelExpr conditions, the tool registry, and a live ledger snapshot.
// Evaluate itself never mutates Ledger. DispatchAgentMessage reads a
// Snapshot, allocates the request's sequence number, and records the
// history entry of a denial; an allowed request's taint side effects
// are applied via Ledger.Apply only once the child's response arrives.
type Deps struct {
	Policy   policy.Policy
	CelEval  policy.CelEvaluator
	Registry *tool.Registry
	Ledger   *taint.Ledger
}

// DispatchAgentMessage decides what to do with one message read from the
// agent, given the session's current lifecycle state.
func DispatchAgentMessage(m *Machine, corr *CorrelationTable, deps Deps, msg *wire.Message) Action {
	method := msg.Method()

	if m.Current() == Handshaking {
		if method == "initialize" {
			return Action{Kind: ActionForward, Payload: msg.Raw}
		}
		if msg.IsNotification() && method == "notifications/initialized" {
			return Action{Kind: ActionForward, Payload: msg.Raw}
		}
		return Action{Kind: ActionRespondError, Payload: wireerr.Response(msg.RawID(), wireerr.NotInitialized, "session has not completed the initialize handshake", nil)}
	}

	if m.Current() == Draining {
		if msg.IsNotification() {
			return Action{Kind: ActionDrop}
		}
		return Action{Kind: ActionRespondError, Payload: wireerr.Response(msg.RawID(), wireerr.InternalError, "session is draining and accepts no new requests", nil)}
	}

	if m.Current() != Serving {
		return Action{Kind: ActionDrop}
	}

	if !msg.IsToolCall() && !msg.IsResourceRead() {
		return Action{Kind: ActionForward, Payload: msg.Raw}
	}

	rawID := msg.RawID()
	if rawID != nil && corr.Has(string(rawID)) {
		return Action{Kind: ActionRespondError, Payload: wireerr.DuplicateIDResponse(rawID)}
	}

	ctx := buildEvaluationContext(msg, deps)
	decision := policy.Evaluate(deps.Policy, ctx, deps.CelEval)

	seq := deps.Ledger.AllocateSequence()
	callHash := computeCallHash(msg, ctx)

	if !decision.IsAllow() {
		deps.Ledger.Apply(taint.Update{Entry: &taint.HistoryEntry{
			SequenceNumber: seq,
			ToolName:       ctx.ToolName,
			ToolClasses:    classStrings(ctx.Classes),
			Decision:       taint.DecisionDeny,
		}})
		taintsAfter, _ := deps.Ledger.Snapshot()
		event := &AuditEvent{
			Event:          eventNameFor(msg),
			ToolName:       ctx.ToolName,
			Decision:       string(taint.DecisionDeny),
			RuleID:         decision.RuleID,
			SequenceNumber: seq,
			TaintsBefore:   ctx.Taints,
			TaintsAfter:    taintsAfter,
			CallHash:       callHash,
		}
		return Action{Kind: ActionRespondError, Payload: wireerr.PolicyDenied(rawID, decision.RuleID, ctx.ToolName, decision.Message), Audit: event}
	}

	pending := &PendingRequest{
		ToolName:       ctx.ToolName,
		Classes:        ctx.Classes,
		Sequence:       seq,
		TaintsToAdd:    decision.TaintsToAdd,
		TaintsToRemove: decision.TaintsToRemove,
		Event:          eventNameFor(msg),
		TaintsBefore:   ctx.Taints,
		CallHash:       callHash,
	}
	return Action{Kind: ActionForward, Payload: msg.Raw, Pending: pending}
}

func buildEvaluationContext(msg *wire.Message, deps Deps) policy.EvaluationContext {
	taints, history := deps.Ledger.Snapshot()
	ec := policy.EvaluationContext{Taints: taints, History: history}

	if msg.IsResourceRead() {
		params := msg.ParseParams()
		if uri, ok := params["uri"].(string); ok {
			ec.URI = uri
		}
		return ec
	}

	ec.ToolName = toolNameFromRequest(msg)
	if deps.Registry != nil {
		ec.Classes = deps.Registry.Lookup(tool.Name(ec.ToolName))
	}
	params := msg.ParseParams()
	if args, ok := params["arguments"].(map[string]interface{}); ok {
		ec.Args = args
	}
	return ec
}

func toolNameFromRequest(msg *wire.Message) string {
	params := msg.ParseParams()
	name, _ := params["name"].(string)
	return name
}

// computeCallHash digests the request's content-addressable identity: a
// resource read's URI, or a tool call's arguments. A canonicalization
// failure (non-object arguments, exotic number literals) is not fatal to
// the request itself, so this returns 0 rather than propagating an error
// the caller would have to decide how to surface.
func computeCallHash(msg *wire.Message, ctx policy.EvaluationContext) uint64 {
	var v interface{}
	if msg.IsResourceRead() {
		v = ctx.URI
	} else {
		v = ctx.Args
	}
	hash, err := canon.DigestValue(v)
	if err != nil {
		return 0
	}
	return hash
}

func eventNameFor(msg *wire.Message) string {
	if msg.IsResourceRead() {
		return "resource_read"
	}
	return "tool_call"
}

func classStrings(classes []tool.Class) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = string(c)
	}
	return out
}

// DispatchChildMessage decides what to do with one message read from the
// child. A response matching a PendingRequest is finalized (taint commit,
// history entry, spotlighting) before being forwarded to the agent; an
// unsolicited response -- one whose id was never registered, e.g. the
// child misbehaving or replying twice -- is forwarded unmodified, since
// dropping it would silently desynchronize the agent's own request
// bookkeeping. Notifications and requests originated by the child (tool
// servers may emit logging notifications, or a sampling request carrying
// tool-sourced context) always pass through without policy enforcement,
// but any sampling-shaped content they carry is still spotlighted first.
func DispatchChildMessage(corr *CorrelationTable, ledger *taint.Ledger, msg *wire.Message) Action {
	if !msg.IsResponse() {
		out, err := spotlightChildRequest(msg.Raw)
		if err != nil {
			out = msg.Raw
		}
		return Action{Kind: ActionForward, Payload: out}
	}

	rawID := msg.RawID()
	if rawID == nil {
		return Action{Kind: ActionForward, Payload: msg.Raw}
	}

	pending, ok := corr.Resolve(string(rawID))
	if !ok {
		return Action{Kind: ActionForward, Payload: msg.Raw}
	}

	out, event, err := FinalizeChildResponse(ledger, pending, msg.Raw)
	if err != nil {
		out = msg.Raw
	}
	return Action{Kind: ActionForward, Payload: out, Audit: event}
}

// FinalizeChildResponse is called once a response from the child arrives
// matching a PendingRequest: it commits the deferred taint-ledger update,
// records the decision history entry, and spotlights any text content
// blocks in the result so the agent cannot mistake returned data for
// instructions. A JSON-RPC error response commits no taint additions
// and is recorded as allow_errored.
func FinalizeChildResponse(ledger *taint.Ledger, pending PendingRequest, raw []byte) ([]byte, *AuditEvent, error) {
	decision := taint.DecisionAllow
	adds := pending.TaintsToAdd
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		decision = taint.DecisionAllowErrored
		adds = nil
	}
	out, spotlightErr := spotlightResponse(raw)
	if spotlightErr != nil {
		decision = taint.DecisionAllowErrored
		out = raw
	}

	ledger.Apply(taint.Update{
		Adds:    adds,
		Removes: pending.TaintsToRemove,
		Entry: &taint.HistoryEntry{
			SequenceNumber: pending.Sequence,
			ToolName:       pending.ToolName,
			ToolClasses:    classStrings(pending.Classes),
			Decision:       decision,
		},
	})
	taintsAfter, _ := ledger.Snapshot()
	event := &AuditEvent{
		Event:          pending.Event,
		ToolName:       pending.ToolName,
		Decision:       string(decision),
		SequenceNumber: pending.Sequence,
		TaintsBefore:   pending.TaintsBefore,
		TaintsAfter:    taintsAfter,
		CallHash:       pending.CallHash,
	}
	return out, event, spotlightErr
}

// spotlightResponse wraps text content blocks in a tools/call result
// with fresh sentinel delimiters. Non-text content and the JSON-RPC
// envelope itself are passed through unchanged.
func spotlightResponse(raw []byte) ([]byte, error) {
	resp := wire.DecodeResultEnvelope(raw)
	if resp == nil {
		return raw, nil
	}
	blocks, ok := resp.ContentBlocks()
	if !ok || len(blocks) == 0 {
		return raw, nil
	}
	wrapped, err := spotlight.ApplyToBlocks(blocks)
	if err != nil {
		return raw, err
	}
	return resp.WithContentBlocks(wrapped)
}

// spotlightChildRequest wraps text content blocks in a server-initiated
// request's sampling params (e.g. sampling/createMessage) with fresh
// sentinel delimiters before it is forwarded to the agent unenforced --
// the request itself gets no policy evaluation, but any tool-sourced
// text it carries still must not reach the agent unwrapped. Requests
// with no sampling-shaped params, and notifications, pass through
// unchanged.
func spotlightChildRequest(raw []byte) ([]byte, error) {
	req := wire.DecodeRequestParamsEnvelope(raw)
	if req == nil {
		return raw, nil
	}
	blocks, ok := req.ContentBlocks()
	if !ok || len(blocks) == 0 {
		return raw, nil
	}
	wrapped, err := spotlight.ApplyToBlocks(blocks)
	if err != nil {
		return raw, err
	}
	return req.WithContentBlocks(wrapped)
}
