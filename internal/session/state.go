// Package session holds the consultation aggregate, its state machine and
// the store that owns consultations for their lifetime.
package session

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is a consultation pipeline state.
type State string

const (
	StateIntake        State = "INTAKE"
	StateSymptoms      State = "SYMPTOMS"
	StateClarification State = "CLARIFICATION"
	StateModeration    State = "MODERATION"
	StateRetrieval     State = "RETRIEVAL"
	StateDraft         State = "DRAFT"
	StateSupervision   State = "SUPERVISION"
	StateFinalized     State = "FINALIZED"
	StateReferred      State = "REFERRED"
)

// AllStates returns every state in pipeline order.
func AllStates() []State {
	return []State{
		StateIntake, StateSymptoms, StateClarification, StateModeration,
		StateRetrieval, StateDraft, StateSupervision, StateFinalized, StateReferred,
	}
}

// transitions lists the allowed successors of each state. CLARIFICATION
// lists itself because questions may be regenerated until answers are
// frozen.
var transitions = map[State][]State{
	StateIntake:        {StateSymptoms},
	StateSymptoms:      {StateClarification},
	StateClarification: {StateClarification, StateModeration},
	StateModeration:    {StateRetrieval, StateReferred},
	StateRetrieval:     {StateDraft},
	StateDraft:         {StateSupervision},
	StateSupervision:   {StateFinalized, StateReferred},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, st := range AllStates() {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateReferred
}

// CanTransition checks that next directly follows s.
func (s State) CanTransition(next State) error {
	if !s.Valid() {
		return fmt.Errorf("%w: unknown current state %q", ErrInvalidTransition, s)
	}
	if !next.Valid() {
		return fmt.Errorf("%w: unknown target state %q", ErrInvalidTransition, next)
	}
	if s.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, s)
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidTransition, s, next)
}
