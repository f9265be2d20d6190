package service

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/sentinelcore/mcpgate/internal/adapter/audit"
	"github.com/sentinelcore/mcpgate/internal/config"
	"github.com/sentinelcore/mcpgate/internal/domain/policy"
	"github.com/sentinelcore/mcpgate/internal/telemetry"
)

// fakeUpstream stands in for the supervised child process: test code
// closes its pipe ends directly and calls simulateExit to mirror what a
// real exec.Cmd.Wait would report once the process has actually gone
// away, so Wait never blocks past the point a real child would have
// exited.
type fakeUpstream struct {
	once sync.Once
	done chan struct{}
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{done: make(chan struct{})}
}

func (f *fakeUpstream) Wait() error {
	<-f.done
	return nil
}

func (f *fakeUpstream) simulateExit() { f.once.Do(func() { close(f.done) }) }

func (f *fakeUpstream) Kill() error {
	f.simulateExit()
	return nil
}

func testConfig() *config.ProcessConfig {
	return &config.ProcessConfig{
		Transport: config.TransportConfig{MaxFrameBytes: 1 << 20},
		Dispatch: config.DispatchConfig{
			ChannelCapacity:     8,
			MaxInFlight:         4,
			DrainTimeoutSeconds: 1,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMiddleware(t *testing.T, deps Deps) *Middleware {
	t.Helper()
	stream := audit.NewNDJSONWriter(io.Discard)
	auditLog := audit.NewLogger(stream, nil, discardLogger())
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	mw, err := New(testConfig(), deps, auditLog, metrics, nil, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mw
}

// harness wires a Middleware's serve loop to four io.Pipe pairs, giving
// the test direct control over both the agent's and the child's ends of
// the conversation.
type harness struct {
	agentInW  *io.PipeWriter
	agentOutR *io.PipeReader
	childInR  *io.PipeReader
	childOutW *io.PipeWriter

	up     *fakeUpstream
	errCh  chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, mw *Middleware) *harness {
	t.Helper()
	agentInR, agentInW := io.Pipe()
	agentOutR, agentOutW := io.Pipe()
	childInR, childInW := io.Pipe()
	childOutR, childOutW := io.Pipe()

	up := newFakeUpstream()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		agentInW:  agentInW,
		agentOutR: agentOutR,
		childInR:  childInR,
		childOutW: childOutW,
		up:        up,
		errCh:     make(chan error, 1),
		cancel:    cancel,
	}
	go func() {
		h.errCh <- mw.serve(ctx, agentInR, agentOutW, childInW, childOutR, up)
	}()
	return h
}

func (h *harness) sendAgentLine(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.agentInW, line+"\n"); err != nil {
		t.Fatalf("write agent line: %v", err)
	}
}

func (h *harness) sendChildLine(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.childOutW, line+"\n"); err != nil {
		t.Fatalf("write child line: %v", err)
	}
}

// readAgentLine reads one line the session wrote back to the agent.
func (h *harness) readAgentLine(t *testing.T) string {
	t.Helper()
	line := make(chan string, 1)
	go func() {
		r := bufio.NewReader(h.agentOutR)
		s, err := r.ReadString('\n')
		if err != nil {
			line <- ""
			return
		}
		line <- strings.TrimRight(s, "\n")
	}()
	select {
	case s := <-line:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for agent line")
		return ""
	}
}

// readChildLine reads one line the session forwarded to the child.
func (h *harness) readChildLine(t *testing.T) string {
	t.Helper()
	line := make(chan string, 1)
	go func() {
		r := bufio.NewReader(h.childInR)
		s, err := r.ReadString('\n')
		if err != nil {
			line <- ""
			return
		}
		line <- strings.TrimRight(s, "\n")
	}()
	select {
	case s := <-line:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for child line")
		return ""
	}
}

func (h *harness) finish(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}

func TestServeHandshakeAllowedToolCallSpotlights(t *testing.T) {
	defer goleak.VerifyNone(t)

	pol := policy.Policy{StaticRules: map[string]policy.StaticAction{"read_file": policy.StaticAllow}}
	mw := newTestMiddleware(t, Deps{Policy: pol})
	h := newHarness(t, mw)

	h.sendAgentLine(t, `{"jsonrpc":"2.0","id":"1","method":"initialize","params":{}}`)
	if got := h.readChildLine(t); !strings.Contains(got, `"method":"initialize"`) {
		t.Fatalf("expected initialize forwarded to child, got %s", got)
	}
	h.sendChildLine(t, `{"jsonrpc":"2.0","id":"1","result":{}}`)
	if got := h.readAgentLine(t); !strings.Contains(got, `"result"`) {
		t.Fatalf("expected initialize result forwarded to agent, got %s", got)
	}

	h.sendAgentLine(t, `{"jsonrpc":"2.0","id":"2","method":"tools/call","params":{"name":"read_file","arguments":{}}}`)
	if got := h.readChildLine(t); !strings.Contains(got, `"read_file"`) {
		t.Fatalf("expected tool call forwarded to child, got %s", got)
	}
	h.sendChildLine(t, `{"jsonrpc":"2.0","id":"2","result":{"content":[{"type":"text","text":"hello"}]}}`)

	got := h.readAgentLine(t)
	if strings.Contains(got, `"text":"hello"`) {
		t.Fatalf("expected result text to be spotlighted, got %s", got)
	}
	if !strings.Contains(got, "SENTINEL_DATA_START") {
		t.Fatalf("expected spotlight markers in forwarded result, got %s", got)
	}

	h.agentInW.Close()
	if err := h.finish(t); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

func TestServeDeniesUnclassifiedToolByDefault(t *testing.T) {
	defer goleak.VerifyNone(t)

	mw := newTestMiddleware(t, Deps{})
	h := newHarness(t, mw)

	h.sendAgentLine(t, `{"jsonrpc":"2.0","id":"1","method":"initialize","params":{}}`)
	h.readChildLine(t)
	h.sendChildLine(t, `{"jsonrpc":"2.0","id":"1","result":{}}`)
	h.readAgentLine(t)

	h.sendAgentLine(t, `{"jsonrpc":"2.0","id":"2","method":"tools/call","params":{"name":"rm","arguments":{}}}`)
	got := h.readAgentLine(t)
	if !strings.Contains(got, "policy_violation") {
		t.Fatalf("expected policy_violation for unclassified tool, got %s", got)
	}

	h.agentInW.Close()
	if err := h.finish(t); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

func TestServeUpstreamCrashFailsPendingRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	pol := policy.Policy{StaticRules: map[string]policy.StaticAction{"read_file": policy.StaticAllow}}
	mw := newTestMiddleware(t, Deps{Policy: pol})
	h := newHarness(t, mw)

	h.sendAgentLine(t, `{"jsonrpc":"2.0","id":"1","method":"initialize","params":{}}`)
	h.readChildLine(t)
	h.sendChildLine(t, `{"jsonrpc":"2.0","id":"1","result":{}}`)
	h.readAgentLine(t)

	h.sendAgentLine(t, `{"jsonrpc":"2.0","id":"2","method":"tools/call","params":{"name":"read_file","arguments":{}}}`)
	h.readChildLine(t)

	h.up.simulateExit()
	h.childOutW.Close()

	got := h.readAgentLine(t)
	if !strings.Contains(got, "child_crashed") {
		t.Fatalf("expected a child_crashed response, got %s", got)
	}

	h.agentInW.Close()
	if err := h.finish(t); err == nil {
		t.Fatal("expected a non-nil error after an upstream crash")
	}
}
