package opcn3

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Busy
	Faulted
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Ready:        "ready",
	Busy:         "busy",
	Faulted:      "faulted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned when an operation is attempted in a
// state that does not allow it.
var ErrInvalidTransition = errors.New("opcn3: invalid state transition")

var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Ready, Faulted, Disconnected},
	Ready:        {Busy, Faulted, Disconnected},
	Busy:         {Ready, Faulted},
	Faulted:      {Disconnected},
}

func (s State) canMoveTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// stateMachine guards Session transitions.
type stateMachine struct {
	cur State
}

func (m *stateMachine) moveTo(next State) error {
	if !m.cur.canMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.cur, next)
	}
	m.cur = next
	return nil
}

// begin marks the start of a command exchange (Ready -> Busy).
func (m *stateMachine) begin() error { return m.moveTo(Busy) }

// finish marks a completed exchange (Busy -> Ready).
func (m *stateMachine) finish() error { return m.moveTo(Ready) }

// fault moves to Faulted from any state that allows it.
func (m *stateMachine) fault() {
	if m.cur.canMoveTo(Faulted) {
		m.cur = Faulted
	}
}
