// Package wireerr maps the middleware's internal error taxonomy onto
// JSON-RPC 2.0 wire codes and builds the error response bodies the
// dispatcher sends back to the agent.
package wireerr

import (
	"encoding/json"

	"github.com/sentinelcore/mcpgate/internal/wire"
)

// Kind is a closed taxonomy of error categories. Every runtime decision
// maps to exactly one kind; unknown kinds are a programming error, not a
// runtime possibility.
type Kind int

const (
	ParseError Kind = iota
	InvalidRequest
	MethodNotFound
	InvalidParams
	InternalError
	NotInitialized
	PolicyViolation
	FramingError
	ChildCrashed
	Overloaded
)

// Code returns the JSON-RPC 2.0 error code this kind maps to.
func (k Kind) Code() int {
	switch k {
	case ParseError:
		return -32700
	case InvalidRequest:
		return -32600
	case MethodNotFound:
		return -32601
	case InvalidParams:
		return -32602
	case InternalError, ChildCrashed:
		return -32603
	case NotInitialized:
		return -32002
	case PolicyViolation, FramingError, Overloaded:
		return -32000
	default:
		return -32603
	}
}

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "parse_error"
	case InvalidRequest:
		return "invalid_request"
	case MethodNotFound:
		return "method_not_found"
	case InvalidParams:
		return "invalid_params"
	case InternalError:
		return "internal_error"
	case NotInitialized:
		return "not_initialized"
	case PolicyViolation:
		return "policy_violation"
	case FramingError:
		return "framing_error"
	case ChildCrashed:
		return "child_crashed"
	case Overloaded:
		return "overloaded"
	default:
		return "unknown"
	}
}

// PolicyViolationData is the structured `data` payload attached to a
// policy-violation error response, suitable for programmatic handling by
// the agent without leaking internal rule content.
type PolicyViolationData struct {
	Kind        string `json:"kind"`
	RuleID      string `json:"rule_id"`
	BlockedTool string `json:"blocked_tool,omitempty"`
}

// FramingErrorData is the structured `data` payload attached to a framing
// error.
type FramingErrorData struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Response builds a raw JSON-RPC error response for the given kind.
func Response(id json.RawMessage, k Kind, message string, data interface{}) []byte {
	return wire.ErrorResponse(id, k.Code(), message, data)
}

// PolicyDenied builds the standard policy-violation response body
// described in the error model: a generic message plus data.rule_id so
// the agent can branch programmatically without private rule content
// leaking unless the policy author chose to include it in message.
func PolicyDenied(id json.RawMessage, ruleID, blockedTool, message string) []byte {
	if message == "" {
		message = "blocked by policy"
	}
	return Response(id, PolicyViolation, message, PolicyViolationData{
		Kind:        PolicyViolation.String(),
		RuleID:      ruleID,
		BlockedTool: blockedTool,
	})
}

// Framing builds a framing-error response. Per the wire mapping, framing
// errors use code -32000 with data.kind identifying the framing failure.
func Framing(id json.RawMessage, detail string) []byte {
	return Response(id, FramingError, "malformed frame", FramingErrorData{
		Kind:   FramingError.String(),
		Detail: detail,
	})
}

// NotInitializedResponse builds the "server not initialized" response sent
// to any non-initialize request received before handshaking completes.
func NotInitializedResponse(id json.RawMessage) []byte {
	return Response(id, NotInitialized, "server not initialized", nil)
}

// ChildCrashedResponse builds the internal-error response sent to any
// request still in flight when the child terminates unexpectedly.
func ChildCrashedResponse(id json.RawMessage) []byte {
	return Response(id, ChildCrashed, "tool server exited unexpectedly", nil)
}

// TooManyInFlightResponse builds the response sent when a session's
// outstanding-request count has already reached its configured cap, so a
// new tool call or resource read is rejected before it ever reaches the
// policy engine.
func TooManyInFlightResponse(id json.RawMessage) []byte {
	return Response(id, Overloaded, "too many in-flight requests", nil)
}

// DuplicateIDResponse builds the invalid-request response sent when a
// request reuses an id that is already in flight.
func DuplicateIDResponse(id json.RawMessage) []byte {
	return Response(id, InvalidRequest, "duplicate request id", nil)
}
