package wire

import (
	"encoding/json"

	"github.com/sentinelcore/mcpgate/internal/domain/spotlight"
)

// RequestParamsEnvelope gives read/write access to the content blocks
// nested inside a server-initiated request's params -- specifically a
// sampling/createMessage request's params.messages[*].content -- without
// disturbing any other field (role, model preferences, non-text content
// fields like an image block's mimeType/data).
type RequestParamsEnvelope struct {
	top      map[string]json.RawMessage
	params   map[string]json.RawMessage
	messages []map[string]json.RawMessage
}

// DecodeRequestParamsEnvelope returns a RequestParamsEnvelope if raw is a
// JSON-RPC request whose params carry a "messages" array, or nil
// otherwise (a notification with no sampling shape, or malformed JSON).
func DecodeRequestParamsEnvelope(raw []byte) *RequestParamsEnvelope {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	paramsRaw, ok := top["params"]
	if !ok {
		return nil
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(paramsRaw, &params); err != nil {
		return nil
	}
	messagesRaw, ok := params["messages"]
	if !ok {
		return nil
	}
	var messages []map[string]json.RawMessage
	if err := json.Unmarshal(messagesRaw, &messages); err != nil {
		return nil
	}
	return &RequestParamsEnvelope{top: top, params: params, messages: messages}
}

// ContentBlocks returns one spotlight.ContentBlock per message, taken
// from that message's "content" field. A message with no content field,
// or a content field that isn't a single block object, contributes an
// empty non-text block so ApplyToBlocks leaves it untouched.
func (e *RequestParamsEnvelope) ContentBlocks() ([]spotlight.ContentBlock, bool) {
	if e == nil || len(e.messages) == 0 {
		return nil, false
	}
	out := make([]spotlight.ContentBlock, len(e.messages))
	for i, msg := range e.messages {
		contentRaw, ok := msg["content"]
		if !ok {
			continue
		}
		var block map[string]json.RawMessage
		if err := json.Unmarshal(contentRaw, &block); err != nil {
			continue
		}
		var blockType string
		if raw, ok := block["type"]; ok {
			_ = json.Unmarshal(raw, &blockType)
		}
		var text string
		if blockType == "text" {
			if raw, ok := block["text"]; ok {
				_ = json.Unmarshal(raw, &text)
			}
		}
		out[i] = spotlight.ContentBlock{Type: blockType, Text: text}
	}
	return out, true
}

// WithContentBlocks re-marshals the full request with blocks' Text values
// applied back onto each message's content field, and every other field
// left untouched.
func (e *RequestParamsEnvelope) WithContentBlocks(blocks []spotlight.ContentBlock) ([]byte, error) {
	if len(blocks) != len(e.messages) {
		return nil, errMismatchedBlockCount
	}
	for i, b := range blocks {
		if b.Type != "text" {
			continue
		}
		contentRaw, ok := e.messages[i]["content"]
		if !ok {
			continue
		}
		var block map[string]json.RawMessage
		if err := json.Unmarshal(contentRaw, &block); err != nil {
			continue
		}
		textJSON, err := json.Marshal(b.Text)
		if err != nil {
			return nil, err
		}
		block["text"] = textJSON
		newContentRaw, err := json.Marshal(block)
		if err != nil {
			return nil, err
		}
		e.messages[i]["content"] = newContentRaw
	}

	messagesJSON, err := json.Marshal(e.messages)
	if err != nil {
		return nil, err
	}
	e.params["messages"] = messagesJSON

	paramsJSON, err := json.Marshal(e.params)
	if err != nil {
		return nil, err
	}
	e.top["params"] = paramsJSON

	return json.Marshal(e.top)
}
