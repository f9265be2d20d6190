// Package wire provides JSON-RPC 2.0 message types and codec utilities
// shared between the transport, dispatcher and policy layers.
package wire

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Side indicates which stream a message arrived on or is destined for.
type Side int

const (
	// Agent identifies the upstream-agent-facing stream (stdin/stdout of this process).
	Agent Side = iota
	// Child identifies the supervised tool-server-facing stream.
	Child
)

// String returns a human-readable name for the side, used in audit records.
func (s Side) String() string {
	switch s {
	case Agent:
		return "agent"
	case Child:
		return "child"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message with the raw bytes it was framed
// from. Raw is kept so passthrough messages can be forwarded byte-for-byte
// without a re-encode round trip, and so the request ID can be recovered
// even when Decoded failed to parse (the SDK's ID type does not marshal
// correctly back out through interface{}, so RawID parses it straight from
// the original bytes).
type Message struct {
	Raw       []byte
	From      Side
	Decoded   jsonrpc.Message
	Timestamp time.Time

	// ParsedParams holds the request's decoded params, populated lazily by
	// ParseParams and cached for reuse by later pipeline stages.
	ParsedParams map[string]interface{}
}

// DecodeMessage parses raw JSON-RPC wire bytes into a jsonrpc.Message.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// EncodeMessage serializes a jsonrpc.Message back to wire bytes.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// Wrap decodes raw bytes and attaches framing metadata. If decoding fails,
// the caller still has raw for passthrough or for reporting a ParseError;
// Decoded is left nil.
func Wrap(raw []byte, from Side) *Message {
	m := &Message{Raw: raw, From: from, Timestamp: time.Now()}
	if decoded, err := DecodeMessage(raw); err == nil {
		m.Decoded = decoded
	}
	return m
}

// IsRequest reports whether the message decoded as a JSON-RPC request
// (includes requests that carry no id, i.e. notifications - use IsNotification
// to distinguish).
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse reports whether the message decoded as a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Request returns the underlying request, or nil if this is not one.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying response, or nil if this is not one.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// Method returns the method name for a request, or "" otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsNotification reports whether this is a request with no id.
func (m *Message) IsNotification() bool {
	req := m.Request()
	return req != nil && len(m.RawID()) == 0
}

// IsToolCall reports whether this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == "tools/call"
}

// IsResourceRead reports whether this is a resources/read request.
func (m *Message) IsResourceRead() bool {
	return m.Method() == "resources/read"
}

// RawID extracts the request/response "id" field straight from the raw
// bytes, preserving its original JSON shape (number, string, or null).
// Returns nil if there is no id field or Raw is empty.
func (m *Message) RawID() json.RawMessage {
	if len(m.Raw) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}

// ParseParams decodes the request params into a map, caching the result.
// Returns nil if this is not a request, has no params, or params don't
// decode to an object.
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}
	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	m.ParsedParams = params
	return params
}

// ErrorResponse constructs a raw JSON-RPC 2.0 error response, preserving the
// original id shape exactly as it was framed. Built directly via
// encoding/json rather than jsonrpc.Response: the SDK's ID type does not
// round-trip through interface{}/any the way a bare json.RawMessage does.
func ErrorResponse(id json.RawMessage, code int, message string, data interface{}) []byte {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	type errBody struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data,omitempty"`
	}
	env := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   errBody         `json:"error"`
	}{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errBody{Code: code, Message: message, Data: data},
	}
	b, _ := json.Marshal(env)
	return b
}
