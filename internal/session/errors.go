package session

import "fmt"

// StateKind is the specific kind of state-machine rejection.
type StateKind string

const (
	NotConnected      StateKind = "not_connected"
	AlreadyConnected  StateKind = "already_connected"
	AlreadyCollecting StateKind = "already_collecting"
	NoDeviceFound     StateKind = "no_device_found"
	Closed            StateKind = "closed"
)

// StateError reports an operation that is not valid in the current state.
type StateError struct {
	Kind  StateKind
	State State
}

func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.State == 0 {
		return "session: " + string(e.Kind)
	}
	return fmt.Sprintf("session: %s (state %s)", e.Kind, e.State)
}

// Is allows errors.Is to compare StateError values by Kind.
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotConnected      = &StateError{Kind: NotConnected}
	ErrAlreadyConnected  = &StateError{Kind: AlreadyConnected}
	ErrAlreadyCollecting = &StateError{Kind: AlreadyCollecting}
	ErrNoDeviceFound     = &StateError{Kind: NoDeviceFound}
	ErrClosed            = &StateError{Kind: Closed}
)

func stateErr(kind StateKind, s State) error {
	return &StateError{Kind: kind, State: s}
}

// TransportError wraps a failed radio operation.
type TransportError struct {
	Op  string // enable, scan, connect, subscribe, write, disconnect
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
