package audit

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeSink struct {
	records  []Record
	appendErr error
	closed   bool
}

func (f *fakeSink) Append(records ...Record) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, records...)
	return nil
}
func (f *fakeSink) Flush() error { return nil }
func (f *fakeSink) Close() error { f.closed = true; return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoggerRecordsToBothStreamAndSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{}
	logger := NewLogger(NewNDJSONWriter(&buf), sink, discardLogger())

	logger.Record(Record{SessionIDPrefix: "abcd1234", Decision: "allow"})

	if buf.Len() == 0 {
		t.Fatal("expected a line written to the mandatory stream")
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record in the optional sink, got %d", len(sink.records))
	}
}

func TestLoggerSinkFailureDoesNotBlockStream(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{appendErr: errors.New("disk full")}
	logger := NewLogger(NewNDJSONWriter(&buf), sink, discardLogger())

	logger.Record(Record{SessionIDPrefix: "abcd1234", Decision: "deny"})

	if buf.Len() == 0 {
		t.Fatal("mandatory stream must still receive the record when the sink fails")
	}
}

func TestLoggerCloseClosesSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{}
	logger := NewLogger(NewNDJSONWriter(&buf), sink, discardLogger())
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sink.closed {
		t.Fatal("expected sink to be closed")
	}
}

func TestLoggerCloseWithNilSink(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(NewNDJSONWriter(&buf), nil, discardLogger())
	if err := logger.Close(); err != nil {
		t.Fatalf("close with nil sink should be a no-op: %v", err)
	}
}
