// Package session manages conversation sessions: the lifecycle state
// machine, cross-channel routing, and the durable session record. A
// session follows one user across every inbound surface they speak
// from; the state machine governs what the pipeline may do with it at
// any moment.
package session

import "fmt"

// State is a session lifecycle state. The state machine state is
// ephemeral and in-process; the durable [Session] record is separate.
type State string

const (
	StateInitializing  State = "initializing"
	StateActive        State = "active"
	StateThinking      State = "thinking"
	StateToolExecuting State = "tool_executing"
	StateSummarizing   State = "summarizing"
	StateEnding        State = "ending"
	StateEnded         State = "ended"
)

// transitions is the canonical edge table. Ending is reachable only
// through summarizing, so every closed session gets a summary pass.
// There are no self-transitions.
var transitions = map[State][]State{
	StateInitializing:  {StateActive},
	StateActive:        {StateThinking, StateSummarizing},
	StateThinking:      {StateToolExecuting, StateActive},
	StateToolExecuting: {StateThinking},
	StateSummarizing:   {StateEnding},
	StateEnding:        {StateEnded},
	StateEnded:         {StateInitializing},
}

// AllStates lists every lifecycle state.
var AllStates = []State{
	StateInitializing,
	StateActive,
	StateThinking,
	StateToolExecuting,
	StateSummarizing,
	StateEnding,
	StateEnded,
}

// TransitionError reports a request for an illegal state machine edge.
// Valid carries the full out-edge set of From, for diagnostics.
type TransitionError struct {
	From  State
	To    State
	Valid []State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s (valid: %v)", e.From, e.To, e.Valid)
}

// ValidTransitions returns the out-edge set for a state. The returned
// slice is a copy; callers may modify it freely.
func ValidTransitions(s State) []State {
	out := transitions[s]
	valid := make([]State, len(out))
	copy(valid, out)
	return valid
}

// IsValidTransition reports whether from -> to is a legal edge.
func IsValidTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates an edge and returns the new state, or a
// *TransitionError when the edge is illegal. The machine is a pure
// lookup; whoever drives a session persists the result.
func Transition(from, to State) (State, error) {
	if !IsValidTransition(from, to) {
		return from, &TransitionError{From: from, To: to, Valid: ValidTransitions(from)}
	}
	return to, nil
}
