package transport

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestReadFrameLineDelimited(t *testing.T) {
	src := strings.NewReader("{\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\n{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n")
	r := NewReader(src)

	first, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if string(first) != `{"jsonrpc":"2.0","method":"ping"}` {
		t.Fatalf("unexpected first frame: %s", first)
	}
	if r.Framing() != FramingLineDelimited {
		t.Fatalf("expected line-delimited framing, got %s", r.Framing())
	}

	second, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if string(second) != `{"jsonrpc":"2.0","id":1,"result":{}}` {
		t.Fatalf("unexpected second frame: %s", second)
	}

	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameContentLength(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"ping"}`
	stream := "Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	r := NewReader(strings.NewReader(stream))

	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if string(frame) != body {
		t.Fatalf("unexpected frame: %s", frame)
	}
	if r.Framing() != FramingContentLength {
		t.Fatalf("expected content-length framing, got %s", r.Framing())
	}
}

func TestReadFrameSkipsNoiseLines(t *testing.T) {
	src := "Starting up server v1.2.3\nListening on stdio\n{\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\n"
	r := NewReader(strings.NewReader(src))

	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if string(frame) != `{"jsonrpc":"2.0","method":"ping"}` {
		t.Fatalf("unexpected frame: %s", frame)
	}
	if r.SkippedLines() != 2 {
		t.Fatalf("expected 2 skipped noise lines, got %d", r.SkippedLines())
	}
}

func TestReadFrameRejectsOversizedContentLength(t *testing.T) {
	stream := "Content-Length: 999999999999\r\n\r\n"
	r := NewReaderSize(strings.NewReader(stream), 1024)
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("expected an error for a content-length exceeding the max frame size")
	}
}

func TestWriteFrameLineDelimited(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"a":1}`), FramingLineDelimited); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	if buf.String() != "{\"a\":1}\n" {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestWriteFrameContentLength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"a":1}`), FramingContentLength); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	want := "Content-Length: 7\r\n\r\n{\"a\":1}"
	if buf.String() != want {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
