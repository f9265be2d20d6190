package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/sentinelcore/mcpgate/internal/adapter/audit"
	"github.com/sentinelcore/mcpgate/internal/adapter/transport"
	"github.com/sentinelcore/mcpgate/internal/domain/dispatch"
	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/domain/wireerr"
	"github.com/sentinelcore/mcpgate/internal/telemetry"
	"github.com/sentinelcore/mcpgate/internal/wire"
)

// frame is one decoded message read from either stream, tagged with
// which side produced it. err is set instead of msg when the read failed
// (including io.EOF), so the dispatch goroutine -- the only goroutine
// that ever touches Machine or CorrelationTable -- learns about stream
// termination the same way it learns about every other event: over the
// inbound channel, never via a second mutation path.
type frame struct {
	side wire.Side
	msg  *wire.Message
	err  error
}

// runner holds one session's live state: the pure dispatch.Machine and
// dispatch.CorrelationTable (each owned exclusively by the goroutine
// running loop, per their own documented single-owner invariant), the
// taint ledger, and the transport plumbing around them.
type runner struct {
	mw *Middleware

	machine *dispatch.Machine
	corr    *dispatch.CorrelationTable
	ledger  *taint.Ledger

	agentOut    io.Writer
	childIn     io.WriteCloser
	agentReader *transport.Reader
	childReader *transport.Reader
	up          Upstream

	inbound chan frame
	wg      sync.WaitGroup

	ctx         context.Context
	handshakeID string
	terminal    error
}

func newRunner(mw *Middleware, agentIn io.Reader, agentOut io.Writer, childIn io.WriteCloser, childOut io.Reader, up Upstream) *runner {
	maxFrame := mw.cfg.Transport.MaxFrameBytes
	return &runner{
		mw:          mw,
		machine:     dispatch.NewMachine(),
		corr:        dispatch.NewCorrelationTable(),
		ledger:      taint.NewLedger(),
		agentOut:    agentOut,
		childIn:     childIn,
		agentReader: transport.NewReaderSize(agentIn, maxFrame),
		childReader: transport.NewReaderSize(childOut, maxFrame),
		up:          up,
		inbound:     make(chan frame, mw.cfg.Dispatch.ChannelCapacity),
	}
}

// run drives the session to completion: it starts one reader goroutine
// per stream, then processes every frame, drain tick and cancellation on
// a single goroutine (this one), so the state it owns never needs a
// mutex. Returns once the session has fully stopped.
func (r *runner) run(ctx context.Context) error {
	r.mw.metrics.SessionStarted()
	defer r.mw.metrics.SessionEnded()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.ctx = runCtx

	r.wg.Add(2)
	go r.readLoop(runCtx, wire.Agent, r.agentReader)
	go r.readLoop(runCtx, wire.Child, r.childReader)

	var drainTimer *time.Timer
	var drainC <-chan time.Time
	armDrainTimer := func() {
		if drainTimer != nil {
			return
		}
		drainTimer = time.NewTimer(r.drainTimeout())
		drainC = drainTimer.C
	}

	// doneCh is nilled out after the first cancellation is observed so
	// the select below doesn't spin hot on an already-closed Done()
	// channel while a drain deadline or in-flight response is awaited.
	doneCh := ctx.Done()

	for r.machine.Current() != dispatch.Stopped {
		select {
		case <-doneCh:
			doneCh = nil
			if r.beginDraining() {
				armDrainTimer()
			}
			r.checkDrainComplete()
		case f, ok := <-r.inbound:
			if !ok {
				continue
			}
			r.mw.metrics.SetQueueDepth(len(r.inbound))
			if f.err != nil {
				r.handleReadError(f.side, f.err)
				if r.machine.Current() == dispatch.Draining {
					armDrainTimer()
				}
				r.checkDrainComplete()
				continue
			}
			r.dispatchFrame(f)
			r.checkDrainComplete()
		case <-drainC:
			r.mw.log.Warn("drain deadline exceeded, forcing shutdown", "outstanding", r.corr.Ids())
			r.failAllPending()
			_ = r.machine.Transition(dispatch.Stopped)
			_ = r.up.Kill()
		}
	}

	cancel()
	// Closing the child's stdin cascades an EOF to it, which a
	// well-behaved upstream treats as a shutdown signal; that in turn
	// closes its stdout and unblocks the child reader goroutine's
	// in-flight read, before waiting on the reader/dispatch goroutines.
	_ = r.childIn.Close()
	if drainTimer != nil {
		drainTimer.Stop()
	}
	r.wg.Wait()
	return r.terminal
}

// checkDrainComplete moves Draining to Stopped once every in-flight
// request has resolved, so a session with nothing left outstanding
// doesn't sit waiting out the full drain deadline for no reason.
func (r *runner) checkDrainComplete() {
	if r.machine.Current() == dispatch.Draining && r.corr.Len() == 0 {
		_ = r.machine.Transition(dispatch.Stopped)
	}
}

func (r *runner) drainTimeout() time.Duration {
	return time.Duration(r.mw.cfg.Dispatch.DrainTimeoutSeconds) * time.Second
}

// readLoop reads frames from one stream until it errors (including a
// clean io.EOF) or ctx is canceled, forwarding every result --
// successful or not -- to the dispatch goroutine over inbound.
func (r *runner) readLoop(ctx context.Context, side wire.Side, reader *transport.Reader) {
	defer r.wg.Done()
	for {
		raw, err := reader.ReadFrame()
		var msg *wire.Message
		if err == nil {
			msg = wire.Wrap(raw, side)
		}
		select {
		case r.inbound <- frame{side: side, msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// beginDraining moves the session from Serving to Draining, or straight
// to Stopped if shutdown arrives before the handshake ever completed
// (Draining is not a legal move from Handshaking -- there is nothing
// in flight to drain). Returns true if a drain deadline should now be
// armed.
func (r *runner) beginDraining() bool {
	switch r.machine.Current() {
	case dispatch.Serving:
		if err := r.machine.Transition(dispatch.Draining); err != nil {
			r.mw.log.Error("drain transition failed", "error", err)
			return false
		}
		r.mw.metrics.RecordDrainEvent()
		return r.corr.Len() > 0
	case dispatch.Handshaking:
		_ = r.machine.Transition(dispatch.Stopped)
		return false
	default:
		return false
	}
}

func (r *runner) handleReadError(side wire.Side, err error) {
	switch side {
	case wire.Agent:
		r.mw.log.Debug("agent stream ended", "error", err)
		r.beginDraining()
	case wire.Child:
		r.mw.log.Warn("upstream stream ended", "error", err)
		r.failAllPending()
		_ = r.machine.Transition(dispatch.Stopped)
		r.terminal = fmt.Errorf("service: upstream stream ended: %w", err)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = r.up.Wait()
		}()
	}
}

// failAllPending responds to every still-outstanding agent request with
// a child-crashed error, since no further response from the child will
// ever arrive to resolve them.
func (r *runner) failAllPending() {
	for _, id := range r.corr.Ids() {
		if _, ok := r.corr.Resolve(id); ok {
			if err := r.writeToAgent(wireerr.ChildCrashedResponse([]byte(id))); err != nil {
				r.mw.log.Error("failed to notify agent of upstream crash", "error", err)
			}
		}
	}
}

func (r *runner) dispatchFrame(f frame) {
	switch f.side {
	case wire.Agent:
		r.dispatchAgentFrame(f.msg)
	case wire.Child:
		r.dispatchChildFrame(f.msg)
	}
}

func (r *runner) deps() dispatch.Deps {
	return dispatch.Deps{
		Policy:   r.mw.deps.Policy,
		CelEval:  r.mw.deps.CelEval,
		Registry: r.mw.deps.Registry,
		Ledger:   r.ledger,
	}
}

func (r *runner) dispatchAgentFrame(msg *wire.Message) {
	if r.handshakeID == "" && msg.Method() == "initialize" {
		if id := msg.RawID(); len(id) > 0 {
			r.handshakeID = string(id)
		}
	}

	if (msg.IsToolCall() || msg.IsResourceRead()) && r.corr.Len() >= r.mw.cfg.Dispatch.MaxInFlight {
		if err := r.writeToAgent(wireerr.TooManyInFlightResponse(msg.RawID())); err != nil {
			r.mw.log.Error("write to agent failed", "error", err)
		}
		return
	}

	_, dispatchSpan := telemetry.StartDispatchSpan(r.ctx, r.mw.tracer, msg.Method())
	var policySpan trace.Span
	if msg.IsToolCall() || msg.IsResourceRead() {
		_, policySpan = telemetry.StartPolicySpan(r.ctx, r.mw.tracer, toolNameOf(msg))
	}

	action := dispatch.DispatchAgentMessage(r.machine, r.corr, r.deps(), msg)
	r.recordAudit(action.Audit)

	if policySpan != nil {
		if action.Kind == dispatch.ActionRespondError && action.Audit != nil {
			telemetry.EndWithError(policySpan, fmt.Errorf("denied by rule %s", action.Audit.RuleID))
		}
		policySpan.End()
	}
	dispatchSpan.End()

	switch action.Kind {
	case dispatch.ActionForward:
		if action.Pending != nil {
			if id := msg.RawID(); len(id) > 0 {
				if err := r.corr.Add(string(id), *action.Pending); err != nil {
					r.mw.log.Error("correlation table rejected forward", "error", err)
					return
				}
			}
		}
		if err := r.writeToChild(action.Payload); err != nil {
			r.mw.log.Error("write to upstream failed", "error", err)
		}
	case dispatch.ActionRespondError:
		if err := r.writeToAgent(action.Payload); err != nil {
			r.mw.log.Error("write to agent failed", "error", err)
		}
	case dispatch.ActionDrop:
	}
}

func (r *runner) dispatchChildFrame(msg *wire.Message) {
	action := dispatch.DispatchChildMessage(r.corr, r.ledger, msg)
	r.recordAudit(action.Audit)

	if r.handshakeID != "" && msg.IsResponse() {
		if id := msg.RawID(); len(id) > 0 && string(id) == r.handshakeID {
			r.handshakeID = ""
			if r.machine.Current() == dispatch.Handshaking {
				if err := r.machine.Transition(dispatch.Serving); err != nil {
					r.mw.log.Error("handshake completion transition failed", "error", err)
				}
			}
		}
	}

	switch action.Kind {
	case dispatch.ActionForward:
		if err := r.writeToAgent(action.Payload); err != nil {
			r.mw.log.Error("write to agent failed", "error", err)
		}
	case dispatch.ActionRespondError, dispatch.ActionDrop:
		// DispatchChildMessage never produces these; handled here only
		// for exhaustiveness with ActionKind's other caller.
	}
}

func (r *runner) recordAudit(ev *dispatch.AuditEvent) {
	if ev == nil {
		return
	}
	r.mw.metrics.RecordDecision(ev.Decision, ev.RuleID)
	if r.mw.auditLog == nil {
		return
	}
	var callHash string
	if ev.CallHash != 0 {
		callHash = fmt.Sprintf("%016x", ev.CallHash)
	}
	r.mw.auditLog.Record(audit.Record{
		Timestamp:       time.Now(),
		SessionIDPrefix: r.mw.idPrefix,
		SequenceNumber:  ev.SequenceNumber,
		Event:           ev.Event,
		ToolName:        ev.ToolName,
		Decision:        ev.Decision,
		RuleID:          ev.RuleID,
		TaintsBefore:    ev.TaintsBefore,
		TaintsAfter:     ev.TaintsAfter,
		CallHash:        callHash,
	})
}

// toolNameOf extracts the "name" param from a tools/call or
// resources/read request for span labeling, returning "" if absent.
func toolNameOf(msg *wire.Message) string {
	params := msg.ParseParams()
	if params == nil {
		return ""
	}
	name, _ := params["name"].(string)
	return name
}

func (r *runner) writeToAgent(payload []byte) error {
	return transport.WriteFrame(r.agentOut, payload, r.agentReader.Framing())
}

func (r *runner) writeToChild(payload []byte) error {
	return transport.WriteFrame(r.childIn, payload, r.childReader.Framing())
}
