package lifecycle

import "fmt"

// State is the controller's position in the module lifecycle.
type State uint8

const (
	StateAwaitingHostEvent State = iota
	StatePinning
	StateRegistering
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHostEvent:
		return "awaiting-host-event"
	case StatePinning:
		return "pinning"
	case StateRegistering:
		return "registering"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// PinState records whether the module pinned itself. It changes at most once.
type PinState uint8

const (
	Unpinned PinState = iota
	Pinned
	PinFailed
)

func (p PinState) String() string {
	switch p {
	case Unpinned:
		return "unpinned"
	case Pinned:
		return "pinned"
	case PinFailed:
		return "failed"
	}
	return fmt.Sprintf("pin(%d)", uint8(p))
}

// Policy decides how entry failures affect the final state.
type Policy uint8

const (
	// PolicyDegraded reaches Ready when at least one entry installed.
	PolicyDegraded Policy = iota
	// PolicyStrict reaches Failed when any entry failed.
	PolicyStrict
)

func (p Policy) String() string {
	switch p {
	case PolicyDegraded:
		return "degraded"
	case PolicyStrict:
		return "strict"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePolicy accepts "degraded" and "strict". Empty means degraded.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "degraded":
		return PolicyDegraded, nil
	case "strict":
		return PolicyStrict, nil
	}
	return PolicyDegraded, fmt.Errorf("unknown policy %q", s)
}

// Transition is reported to observers on every state change.
type Transition struct {
	Err  error
	From State
	To   State
	Pin  PinState
}
