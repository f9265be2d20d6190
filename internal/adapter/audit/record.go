// Package audit writes one audit record per policy decision: a mandatory
// newline-delimited JSON stream to stderr, and an optional sqlite-backed
// sink for later query. The stderr stream is authoritative and is never
// gated on the optional sink succeeding.
package audit

import (
	"time"

	"github.com/sentinelcore/mcpgate/internal/domain/taint"
)

// Record is one audit entry, matching the gateway's wire-level audit
// schema: timestamp, an 8-character session id prefix (never the full
// token, which would leak HMAC material), the decision's sequence
// number, the event that produced it, and the taint set before/after.
type Record struct {
	Timestamp       time.Time   `json:"timestamp"`
	SessionIDPrefix string      `json:"session_id_prefix"`
	SequenceNumber  int         `json:"sequence_number"`
	Event           string      `json:"event"`
	ToolName        string      `json:"tool_name,omitempty"`
	Decision        string      `json:"decision"`
	RuleID          string      `json:"rule_id,omitempty"`
	TaintsBefore    []taint.Tag `json:"taints_before"`
	TaintsAfter     []taint.Tag `json:"taints_after"`
	// CallHash is the request's content digest (see
	// internal/domain/canon.DigestValue), formatted as lowercase hex, so
	// two audit records sharing a hash can be correlated as repeats of
	// the same call even across different JSON-RPC ids.
	CallHash string `json:"call_hash,omitempty"`
}

// Sink persists audit records beyond the mandatory stderr stream. Append
// must be safe to call from the single dispatcher goroutine that owns a
// session; implementations are responsible for their own internal
// batching or buffering.
type Sink interface {
	Append(records ...Record) error
	Flush() error
	Close() error
}
