package wire

import (
	"encoding/json"

	"github.com/sentinelcore/mcpgate/internal/domain/spotlight"
)

// ResultEnvelope gives read/write access to a tools/call response's
// content blocks without disturbing any other field in the response
// (result metadata, isError, unrecognized block fields like an image
// block's mimeType/data). It exists because spotlighting a text block
// must not silently drop the fields of its sibling non-text blocks.
type ResultEnvelope struct {
	top     map[string]json.RawMessage
	result  map[string]json.RawMessage
	content []map[string]json.RawMessage
}

// DecodeResultEnvelope returns a ResultEnvelope if raw is a JSON-RPC
// response whose result carries a "content" array, or nil otherwise (an
// error response, a result with no content, or malformed JSON).
func DecodeResultEnvelope(raw []byte) *ResultEnvelope {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	resultRaw, ok := top["result"]
	if !ok {
		return nil
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &result); err != nil {
		return nil
	}
	contentRaw, ok := result["content"]
	if !ok {
		return nil
	}
	var content []map[string]json.RawMessage
	if err := json.Unmarshal(contentRaw, &content); err != nil {
		return nil
	}
	return &ResultEnvelope{top: top, result: result, content: content}
}

// ContentBlocks returns the envelope's content blocks as
// spotlight.ContentBlock values. Non-text blocks are included with an
// empty Text so ApplyToBlocks leaves them untouched; their original
// fields are preserved internally and restored by WithContentBlocks.
func (e *ResultEnvelope) ContentBlocks() ([]spotlight.ContentBlock, bool) {
	if e == nil || len(e.content) == 0 {
		return nil, false
	}
	out := make([]spotlight.ContentBlock, len(e.content))
	for i, block := range e.content {
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

// WithContentBlocks re-marshals the full response with blocks' Text
// values applied back onto the original content entries, and every other
// field (result metadata, non-text block fields) left untouched.
func (e *ResultEnvelope) WithContentBlocks(blocks []spotlight.ContentBlock) ([]byte, error) {
	if len(blocks) != len(e.content) {
		return nil, errMismatchedBlockCount
	}
	for i, b := range blocks {
		if b.Type != "text" {
			continue
		}
		textJSON, err := json.Marshal(b.Text)
		if err != nil {
			return nil, err
		}
		e.content[i]["text"] = textJSON
	}

	contentJSON, err := json.Marshal(e.content)
	if err != nil {
		return nil, err
	}
	e.result["content"] = contentJSON

	resultJSON, err := json.Marshal(e.result)
	if err != nil {
		return nil, err
	}
	e.top["result"] = resultJSON

	return json.Marshal(e.top)
}

var errMismatchedBlockCount = resultEnvelopeError("wire: content block count changed between decode and re-encode")

type resultEnvelopeError string

func (e resultEnvelopeError) Error() string { return string(e) }
