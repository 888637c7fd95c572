package session

import (
	"errors"
	"testing"
)

// validEdges pins the canonical transition table. Any edit to the
// table must be reflected here deliberately.
var validEdges = map[State][]State{
	StateInitializing:  {StateActive},
	StateActive:        {StateThinking, StateSummarizing},
	StateThinking:      {StateToolExecuting, StateActive},
	StateToolExecuting: {StateThinking},
	StateSummarizing:   {StateEnding},
	StateEnding:        {StateEnded},
	StateEnded:         {StateInitializing},
}

func edgeIn(set []State, s State) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func TestTransitionTableTotality(t *testing.T) {
	// Every ordered pair, including self-transitions, must match the
	// pinned table exactly.
	for _, from := range AllStates {
		for _, to := range AllStates {
			want := edgeIn(validEdges[from], to)
			if got := IsValidTransition(from, to); got != want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestNoSelfTransitions(t *testing.T) {
	for _, s := range AllStates {
		if IsValidTransition(s, s) {
			t.Errorf("self-transition %s -> %s should be invalid", s, s)
		}
	}
}

func TestActiveEndingInvalid(t *testing.T) {
	// Ending is reachable only through summarizing.
	if IsValidTransition(StateActive, StateEnding) {
		t.Error("active -> ending should be invalid")
	}
	if !IsValidTransition(StateActive, StateSummarizing) {
		t.Error("active -> summarizing should be valid")
	}
}

func TestAsymmetry(t *testing.T) {
	// thinking <-> tool_executing runs both directions; most other
	// edges do not.
	if !IsValidTransition(StateThinking, StateToolExecuting) ||
		!IsValidTransition(StateToolExecuting, StateThinking) {
		t.Error("thinking <-> tool_executing should be valid both ways")
	}
	if IsValidTransition(StateActive, StateInitializing) {
		t.Error("active -> initializing should be invalid")
	}
	if IsValidTransition(StateEnded, StateEnding) {
		t.Error("ended -> ending should be invalid")
	}
}

func TestTransitionReturnsNewState(t *testing.T) {
	got, err := Transition(StateInitializing, StateActive)
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if got != StateActive {
		t.Errorf("Transition = %s, want %s", got, StateActive)
	}
}

func TestTransitionErrorCarriesValidSet(t *testing.T) {
	_, err := Transition(StateActive, StateEnded)
	if err == nil {
		t.Fatal("expected error for active -> ended")
	}

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *TransitionError", err)
	}
	if te.From != StateActive || te.To != StateEnded {
		t.Errorf("error edge = %s -> %s, want active -> ended", te.From, te.To)
	}
	if len(te.Valid) != 2 || !edgeIn(te.Valid, StateThinking) || !edgeIn(te.Valid, StateSummarizing) {
		t.Errorf("Valid = %v, want [thinking summarizing]", te.Valid)
	}
}

func TestValidTransitionsFanOut(t *testing.T) {
	got := ValidTransitions(StateActive)
	if len(got) != 2 || !edgeIn(got, StateThinking) || !edgeIn(got, StateSummarizing) {
		t.Errorf("ValidTransitions(active) = %v, want thinking and summarizing", got)
	}

	// Mutating the returned slice must not corrupt the table.
	got[0] = StateEnded
	again := ValidTransitions(StateActive)
	if edgeIn(again, StateEnded) {
		t.Error("ValidTransitions returned a live reference to the table")
	}
}
