package dispatch

import "github.com/sentinelcore/mcpgate/internal/domain/taint"

// AuditEvent carries everything the service layer's audit logger needs
// about one decision, without dispatch importing the audit adapter
// package directly (domain stays free of adapter dependencies).
type AuditEvent struct {
	Event          string
	ToolName       string
	Decision       string
	RuleID         string
	SequenceNumber int
	TaintsBefore   []taint.Tag
	TaintsAfter    []taint.Tag
	// CallHash is the xxhash64 digest of the request's canonicalized
	// arguments (or, for a resource read, its URI), letting the audit
	// trail and any future duplicate-call coalescing key off content
	// rather than the agent-supplied JSON-RPC id alone. Zero if the
	// request's params failed to canonicalize.
	CallHash uint64
}
