package runtime

import "sync/atomic"

// State is the registration lifecycle of a Registry.
type State int32

const (
	// StateOpen accepts registrations. Nothing has been registered yet.
	StateOpen State = iota
	// StateScheduledClose accepts registrations. At least one registration
	// happened and the registry closes once setup completes.
	StateScheduledClose
	// StateClosed rejects every registration.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateScheduledClose:
		return "scheduled_close"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type lifecycle struct {
	state atomic.Int32
}

func (l *lifecycle) current() State {
	return State(l.state.Load())
}

// schedule moves Open to ScheduledClose. It is a no-op in every other state.
func (l *lifecycle) schedule() {
	l.state.CompareAndSwap(int32(StateOpen), int32(StateScheduledClose))
}

// close moves to Closed from any state and reports whether this call did it.
func (l *lifecycle) close() bool {
	return State(l.state.Swap(int32(StateClosed))) != StateClosed
}
