package audit

import (
	"log/slog"
)

// Logger is the single audit entry point the dispatcher calls after every
// policy decision. It always writes to the mandatory NDJSON stream first;
// an optional Sink failure is logged but never surfaces to the caller, so
// a broken durable sink can never block or deny a tool call.
type Logger struct {
	stream *NDJSONWriter
	sink   Sink
	log    *slog.Logger
}

// NewLogger builds a Logger writing to stream. sink may be nil if no
// optional durable sink was configured.
func NewLogger(stream *NDJSONWriter, sink Sink, log *slog.Logger) *Logger {
	return &Logger{stream: stream, sink: sink, log: log}
}

// Record writes one audit record to the mandatory stream and, if
// configured, the optional sink.
func (l *Logger) Record(rec Record) {
	if err := l.stream.Write(rec); err != nil {
		l.log.Error("audit: failed to write stderr record", "error", err)
	}
	if l.sink == nil {
		return
	}
	if err := l.sink.Append(rec); err != nil {
		l.log.Warn("audit: optional sink append failed", "error", err)
	}
}

// Close releases the optional sink, if any. The mandatory stream needs no
// explicit close since it writes directly to the process's stderr.
func (l *Logger) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}
