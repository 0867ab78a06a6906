package domain

import (
	"fmt"
	"strings"
)

// FocusState is the user's current interruptibility mode.
type FocusState string

const (
	FocusFlow    FocusState = "FLOW"
	FocusShallow FocusState = "SHALLOW"
	FocusIdle    FocusState = "IDLE"
)

// DefaultFocusState is used when no state is stored or the stored value is unknown.
const DefaultFocusState = FocusIdle

// IsValid checks if the state is one of FLOW, SHALLOW, IDLE.
func (s FocusState) IsValid() bool {
	switch s {
	case FocusFlow, FocusShallow, FocusIdle:
		return true
	default:
		return false
	}
}

// ParseFocusState converts a raw value, case-insensitively, into a FocusState.
func ParseFocusState(raw string) (FocusState, error) {
	s := FocusState(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q, expected FLOW, SHALLOW or IDLE", ErrInvalidFocusState, raw)
	}
	return s, nil
}

// InterruptPolicy holds the minimum urgency that may interrupt each non-idle state.
type InterruptPolicy struct {
	ShallowThreshold int `yaml:"shallow_threshold"`
	FlowThreshold    int `yaml:"flow_threshold"`
}

// DefaultInterruptPolicy interrupts SHALLOW at 6+ and FLOW at 9+.
func DefaultInterruptPolicy() InterruptPolicy {
	return InterruptPolicy{ShallowThreshold: 6, FlowThreshold: 9}
}

// CanInterrupt reports whether an item of the given urgency may interrupt a user in state.
// Unknown states are treated as the default state.
func (p InterruptPolicy) CanInterrupt(state FocusState, urgency int) bool {
	switch state {
	case FocusFlow:
		return urgency >= p.FlowThreshold
	case FocusShallow:
		return urgency >= p.ShallowThreshold
	default:
		return true
	}
}
