package audit

import (
	"encoding/json"
	"io"
	"sync"
)

// NDJSONWriter writes one Record per line to an underlying writer
// (stderr in production), serialized with a mutex since audit writes can
// be triggered from both a session's dispatcher goroutine and its
// shutdown path. This writer is mandatory: the service layer constructs
// exactly one against os.Stderr and never allows it to be disabled.
type NDJSONWriter struct {
	mu sync.Mutex
	w  io.Writer
	enc *json.Encoder
}

// NewNDJSONWriter wraps w (typically os.Stderr).
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: w, enc: json.NewEncoder(w)}
}

// Write encodes rec as one compact JSON line.
func (n *NDJSONWriter) Write(rec Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enc.Encode(rec)
}
