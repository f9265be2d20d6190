// Package spotlight wraps untrusted tool output in randomized delimiters
// so a downstream language model cannot be tricked by control sequences
// embedded in tool-produced text.
package spotlight

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	startPrefix = "<<<SENTINEL_DATA_START:"
	endPrefix   = "<<<SENTINEL_DATA_END:"
	suffix      = ">>>"
	idBytes     = 8
)

// NewID generates a fresh 8-byte hex random id for one envelope. The same
// id is used for the START and END markers of that envelope; no nested
// envelope in the same response may reuse an outer id.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("spotlight: generate id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Wrap envelopes text with a freshly generated random id.
func Wrap(text string) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	return WrapWithID(text, id), nil
}

// WrapWithID envelopes text using a caller-supplied id, for callers that
// need to generate one id up front and reuse it across multiple content
// blocks of the same response.
func WrapWithID(text, id string) string {
	return startPrefix + id + suffix + "\n" + text + "\n" + endPrefix + id + suffix
}

// ContentBlock mirrors the minimal shape of an MCP tool-result content
// entry that spotlighting cares about: a type tag and, for textual blocks,
// the text itself. Binary/image/audio blocks are passed through untouched.
type ContentBlock struct {
	Type string
	Text string
}

// ApplyToBlocks wraps every textual block's Text field in its own envelope
// (a fresh random id per block) and returns the updated slice. Non-text
// blocks are left unmodified.
func ApplyToBlocks(blocks []ContentBlock) ([]ContentBlock, error) {
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if b.Type != "text" {
			continue
		}
		wrapped, err := Wrap(b.Text)
		if err != nil {
			return nil, err
		}
		out[i].Text = wrapped
	}
	return out, nil
}
