// Package service wires the pure dispatch state machine in
// internal/domain/dispatch to live I/O: the supervised child process, the
// transport codec reading and writing both stdio streams, the audit
// logger, and the telemetry metrics registry -- turning a byte-for-byte
// bidirectional copy into a policy-evaluated, audited proxy.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sentinelcore/mcpgate/internal/adapter/audit"
	"github.com/sentinelcore/mcpgate/internal/adapter/supervisor"
	"github.com/sentinelcore/mcpgate/internal/config"
	"github.com/sentinelcore/mcpgate/internal/domain/policy"
	"github.com/sentinelcore/mcpgate/internal/domain/sessionid"
	"github.com/sentinelcore/mcpgate/internal/domain/tool"
	"github.com/sentinelcore/mcpgate/internal/telemetry"
)

// ErrSpawnFailed wraps any error returned by Run because the supervised
// upstream process could not be started, letting cmd/mcpgate distinguish
// a spawn failure (exit code 2) from every other startup error (exit
// code 1) without string-matching an error message.
var ErrSpawnFailed = errors.New("service: failed to spawn upstream")

// Deps bundles the policy inputs every request in a session is evaluated
// against. Built once at process startup from the loaded policy document.
type Deps struct {
	Policy   policy.Policy
	CelEval  policy.CelEvaluator
	Registry *tool.Registry
}

// Upstream is the narrow slice of supervisor.Child a runner needs once
// its stdio pipes have been handed over: liveness and forced teardown.
// Factored out as an interface so tests can drive the dispatch loop
// against io.Pipe endpoints without spawning a real process.
type Upstream interface {
	Wait() error
	Kill() error
}

// Middleware runs one gateway session end to end: it mints a session id,
// spawns the supervised child, and proxies agent<->child traffic through
// the policy dispatcher until the session ends. Construct one Middleware
// per session; its secret and session id are never reused across
// sessions.
type Middleware struct {
	cfg      *config.ProcessConfig
	deps     Deps
	auditLog *audit.Logger
	metrics  *telemetry.Metrics
	tracer   trace.TracerProvider
	log      *slog.Logger

	sessionID sessionid.SessionID
	idPrefix  string
}

// New builds a Middleware for one session, minting a fresh HMAC secret
// and session id at construction time -- per the data model, exactly
// once per process lifetime and never persisted or logged. tracer may be
// nil, in which case dispatch and policy spans are discarded through a
// no-op provider.
func New(cfg *config.ProcessConfig, deps Deps, auditLog *audit.Logger, metrics *telemetry.Metrics, tracer trace.TracerProvider, log *slog.Logger) (*Middleware, error) {
	secret, err := sessionid.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("service: minting session secret: %w", err)
	}
	sid, err := sessionid.Generate(secret)
	if err != nil {
		return nil, fmt.Errorf("service: generating session id: %w", err)
	}
	prefix := sessionid.Prefix(sid, 8)
	if log == nil {
		log = slog.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider()
	}
	return &Middleware{
		cfg:       cfg,
		deps:      deps,
		auditLog:  auditLog,
		metrics:   metrics,
		tracer:    tracer,
		log:       log.With("session_id_prefix", prefix),
		sessionID: sid,
		idPrefix:  prefix,
	}, nil
}

// SessionID returns the session's HMAC-bound identifier.
func (m *Middleware) SessionID() sessionid.SessionID { return m.sessionID }

// Run spawns the supervised upstream child and proxies the session,
// reading framed JSON-RPC from agentIn and writing framed responses to
// agentOut, until ctx is canceled, the agent stream closes, or the child
// exits. It blocks for the session's lifetime.
func (m *Middleware) Run(ctx context.Context, agentIn io.Reader, agentOut io.Writer) error {
	child, err := supervisor.Spawn(ctx, m.cfg.Upstream.Command, m.cfg.Upstream.Args)
	if err != nil {
		return fmt.Errorf("%w: spawning upstream %q: %w", ErrSpawnFailed, m.cfg.Upstream.Command, err)
	}

	return m.serve(ctx, agentIn, agentOut, child.Stdin, child.Stdout, child)
}

// serve is Run's testable core: it takes the child's stdio pipes and
// liveness handle directly rather than spawning them, so the dispatch
// loop can be exercised end to end against io.Pipe endpoints and a fake
// Upstream. childIn is closed by the runner itself once the session
// winds down, letting an EOF cascade to the child and in turn unblock
// the read of its stdout.
func (m *Middleware) serve(ctx context.Context, agentIn io.Reader, agentOut io.Writer, childIn io.WriteCloser, childOut io.Reader, up Upstream) error {
	r := newRunner(m, agentIn, agentOut, childIn, childOut, up)
	return r.run(ctx)
}
