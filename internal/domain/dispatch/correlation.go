package dispatch

import (
	"fmt"
	"time"

	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/domain/tool"
)

// PendingRequest records what a dispatcher needs to remember about a
// forwarded request while waiting for the child's matching response: the
// tool classification and taint-ledger side effects the policy decision
// already computed, deferred until the response actually arrives so the
// ledger reflects a tool call's outcome rather than its mere admission.
type PendingRequest struct {
	ToolName       string
	Classes        []tool.Class
	Sequence       int
	SentAt         time.Time
	TaintsToAdd    []taint.Tag
	TaintsToRemove []taint.Tag
	// Event, TaintsBefore and CallHash are carried through purely for the
	// audit record FinalizeChildResponse builds once the response arrives.
	Event        string
	TaintsBefore []taint.Tag
	CallHash     uint64
}

// CorrelationTable tracks requests forwarded to the child keyed by their
// JSON-RPC id, so a response can be matched back to the request that
// produced it. Not safe for concurrent use; owned by one dispatcher
// goroutine per session, same as Machine.
type CorrelationTable struct {
	pending map[string]PendingRequest
}

// NewCorrelationTable creates an empty table.
func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{pending: make(map[string]PendingRequest)}
}

// Add registers a forwarded request under id. Returns an error if id is
// already outstanding: the agent reused a JSON-RPC id before its prior
// request resolved, which is a protocol violation we must not paper over
// by silently clobbering the first entry.
func (t *CorrelationTable) Add(id string, req PendingRequest) error {
	if _, exists := t.pending[id]; exists {
		return fmt.Errorf("dispatch: duplicate in-flight request id %q", id)
	}
	t.pending[id] = req
	return nil
}

// Resolve removes and returns the pending request registered under id.
func (t *CorrelationTable) Resolve(id string) (PendingRequest, bool) {
	req, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return req, ok
}

// Has reports whether id is currently outstanding, without consuming it.
// Used for duplicate-id detection, where Resolve's delete-on-read
// behavior would be wrong: a collision must leave the original request's
// entry in place for its eventual real response to resolve.
func (t *CorrelationTable) Has(id string) bool {
	_, ok := t.pending[id]
	return ok
}

// Len reports how many requests are currently outstanding.
func (t *CorrelationTable) Len() int { return len(t.pending) }

// Ids returns every currently outstanding request id, for drain-timeout
// diagnostics.
func (t *CorrelationTable) Ids() []string {
	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	return ids
}
