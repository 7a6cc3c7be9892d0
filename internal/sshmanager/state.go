package sshmanager

import (
	"sync"
	"time"
)

// ConnectionState represents the current state of the guarded connection.
type ConnectionState string

const (
	StateConnected ConnectionState = "connected"
	StateFailed    ConnectionState = "failed"
	StateClosed    ConnectionState = "closed"
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	return string(s)
}

// StateTransition records a state change for debugging.
type StateTransition struct {
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
}

// maxTransitions limits the number of stored state transitions.
const maxTransitions = 50

type stateTracker struct {
	mu          sync.RWMutex
	state       ConnectionState
	transitions []StateTransition
}

func newStateTracker() *stateTracker {
	return &stateTracker{}
}

func (t *stateTracker) get() ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// set updates the state and returns the previous one. Closed is terminal.
func (t *stateTracker) set(s ConnectionState) ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state
	if prev == s || prev == StateClosed {
		return prev
	}
	t.state = s
	t.transitions = append(t.transitions, StateTransition{From: prev, To: s, Timestamp: time.Now()})
	if len(t.transitions) > maxTransitions {
		t.transitions = t.transitions[len(t.transitions)-maxTransitions:]
	}
	return prev
}

func (t *stateTracker) history() []StateTransition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]StateTransition, len(t.transitions))
	copy(out, t.transitions)
	return out
}

// Transitions returns the recorded state changes, oldest first.
func (g *Guardian) Transitions() []StateTransition {
	return g.state.history()
}
