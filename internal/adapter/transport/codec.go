// Package transport implements the two JSON-RPC framings an MCP stdio
// peer may speak -- newline-delimited JSON and LSP-style Content-Length
// framing -- behind one auto-detecting Reader, built around a
// bufio.Reader that reads input line by line, generalized to also accept
// framed input and to tolerate stray non-JSON lines on the wire.
package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxFrameSize bounds a single decoded frame; a Content-Length
// header claiming more than this is rejected before any buffer the size
// of the claim is allocated.
const DefaultMaxFrameSize = 16 * 1024 * 1024

const initialScanBuffer = 256 * 1024

// Framing identifies which wire framing a Reader has locked onto.
type Framing int

const (
	FramingUnknown Framing = iota
	FramingLineDelimited
	FramingContentLength
)

func (f Framing) String() string {
	switch f {
	case FramingLineDelimited:
		return "line-delimited"
	case FramingContentLength:
		return "content-length"
	default:
		return "unknown"
	}
}

// Reader decodes a stream of JSON-RPC frames, auto-detecting between
// line-delimited and Content-Length framing on the first frame and then
// holding to that choice for the life of the stream.
type Reader struct {
	br          *bufio.Reader
	maxFrame    int
	framing     Framing
	skippedLines int // count of non-JSON lines skipped, exposed for diagnostics
}

// NewReader wraps r with the default frame-size limit.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxFrameSize)
}

// NewReaderSize wraps r, rejecting any frame larger than maxFrame bytes.
func NewReaderSize(r io.Reader, maxFrame int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, initialScanBuffer), maxFrame: maxFrame}
}

// Framing reports the framing this Reader has locked onto, or
// FramingUnknown before the first frame has been read.
func (r *Reader) Framing() Framing { return r.framing }

// SkippedLines reports how many non-JSON lines have been discarded while
// scanning for a frame boundary, for noise-resilience diagnostics.
func (r *Reader) SkippedLines() int { return r.skippedLines }

// ReadFrame returns the next decoded JSON-RPC frame's raw bytes (without
// any framing envelope), or io.EOF once the stream is exhausted.
func (r *Reader) ReadFrame() ([]byte, error) {
	if r.framing == FramingContentLength {
		return r.readContentLengthFrame()
	}

	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		if r.framing == FramingUnknown && looksLikeHeaderLine(trimmed) {
			r.framing = FramingContentLength
			return r.readContentLengthFrameStartingWith(trimmed)
		}

		if !looksLikeJSON(trimmed) {
			// Banner/log noise on a stdio peer's output stream: skip and
			// keep scanning rather than failing the whole connection.
			r.skippedLines++
			continue
		}

		if len(trimmed) > r.maxFrame {
			return nil, fmt.Errorf("transport: line-delimited frame of %d bytes exceeds max %d", len(trimmed), r.maxFrame)
		}
		if r.framing == FramingUnknown {
			r.framing = FramingLineDelimited
		}
		out := make([]byte, len(trimmed))
		copy(out, trimmed)
		return out, nil
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > r.maxFrame {
			return nil, fmt.Errorf("transport: line exceeds max frame size %d before a newline was found", r.maxFrame)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

func looksLikeJSON(line []byte) bool {
	return len(line) > 0 && (line[0] == '{' || line[0] == '[')
}

func looksLikeHeaderLine(line []byte) bool {
	return bytes.HasPrefix(bytes.ToLower(line), []byte("content-length:"))
}

// readContentLengthFrameStartingWith finishes parsing a header block whose
// first line has already been read (the line that triggered detection).
func (r *Reader) readContentLengthFrameStartingWith(firstLine []byte) ([]byte, error) {
	length, err := parseContentLength(firstLine)
	if err != nil {
		return nil, err
	}
	if err := r.consumeRemainingHeaders(); err != nil {
		return nil, err
	}
	return r.readBody(length)
}

func (r *Reader) readContentLengthFrame() ([]byte, error) {
	var length = -1
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			break
		}
		if looksLikeHeaderLine(trimmed) {
			length, err = parseContentLength(trimmed)
			if err != nil {
				return nil, err
			}
		}
		// Unrecognized headers (e.g. Content-Type) are ignored per the
		// LSP framing convention.
	}
	if length < 0 {
		return nil, fmt.Errorf("transport: content-length frame missing Content-Length header")
	}
	return r.readBody(length)
}

func (r *Reader) consumeRemainingHeaders() error {
	for {
		line, err := r.readLine()
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			return nil
		}
	}
}

func (r *Reader) readBody(length int) ([]byte, error) {
	if length < 0 || length > r.maxFrame {
		return nil, fmt.Errorf("transport: content-length %d exceeds max frame size %d", length, r.maxFrame)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return nil, err
	}
	return body, nil
}

func parseContentLength(headerLine []byte) (int, error) {
	parts := strings.SplitN(string(headerLine), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("transport: malformed Content-Length header %q", headerLine)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("transport: malformed Content-Length value %q: %w", parts[1], err)
	}
	if n < 0 {
		return 0, fmt.Errorf("transport: negative Content-Length %d", n)
	}
	return n, nil
}

// WriteFrame writes payload to w using the given framing. Line-delimited
// framing appends a single trailing newline; Content-Length framing
// writes the LSP-style header block followed by the raw body.
func WriteFrame(w io.Writer, payload []byte, framing Framing) error {
	switch framing {
	case FramingContentLength:
		header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
		if _, err := io.WriteString(w, header); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	default:
		if _, err := w.Write(payload); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	}
}
