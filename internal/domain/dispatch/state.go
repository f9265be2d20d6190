// Package dispatch holds the pure state machine and per-request decision
// logic the gateway's service layer drives: what state a session is in,
// which requests are outstanding, and what should happen to one incoming
// message given a policy decision. I/O -- reading frames, spawning the
// child, writing responses -- lives in internal/service; this package
// only ever answers "given this state and this message, what happens
// next."
package dispatch

import "fmt"

// State is one stage of a session's lifecycle.
type State int

const (
	// Handshaking: the initialize handshake has not yet completed.
	// Nothing but initialize/initialized may pass.
	Handshaking State = iota
	// Serving: the session is open for tools/call and resources/read.
	Serving
	// Draining: shutdown has begun; no new requests are accepted from the
	// agent, but in-flight requests are still allowed to complete.
	Draining
	// Stopped: the session is fully torn down.
	Stopped
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// transitions enumerates every state change this machine permits. Any
// transition not listed here is a bug, not a runtime condition to guard
// against silently.
var transitions = map[State]map[State]bool{
	Handshaking: {Serving: true, Stopped: true},
	Serving:     {Draining: true, Stopped: true},
	Draining:    {Stopped: true},
	Stopped:     {},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// Machine is a session's current lifecycle state, with transitions
// checked against the table above. It carries no mutex: callers own one
// Machine per dispatcher goroutine and never share it across goroutines.
type Machine struct {
	current State
}

// NewMachine starts a session in Handshaking.
func NewMachine() *Machine { return &Machine{current: Handshaking} }

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// Transition moves to 'to', returning an error if the move is not legal
// from the current state.
func (m *Machine) Transition(to State) error {
	if !CanTransition(m.current, to) {
		return fmt.Errorf("dispatch: illegal transition %s -> %s", m.current, to)
	}
	m.current = to
	return nil
}

// AcceptsNewRequests reports whether the session's current state allows
// a freshly arrived agent request to be admitted for processing.
func (m *Machine) AcceptsNewRequests() bool {
	return m.current == Serving
}
