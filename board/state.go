package board

import (
	"errors"
	"fmt"
)

// State is the phase of a drag session.
type State int

const (
	Idle State = iota
	Dragging
	Hovering
	Dropped
	Cancelled
)

var stateNames = [...]string{"idle", "dragging", "hovering", "dropped", "cancelled"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Active reports whether a drag is in progress.
func (s State) Active() bool {
	return s == Dragging || s == Hovering
}

var transitions = map[State][]State{
	Idle:      {Dragging},
	Dragging:  {Hovering, Dropped, Cancelled},
	Hovering:  {Hovering, Dropped, Cancelled},
	Dropped:   {Idle},
	Cancelled: {Idle},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for a transition the state machine forbids.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("drag session cannot go from %s to %s", e.From, e.To)
}

var (
	ErrNoSession     = errors.New("no drag session in progress")
	ErrWrongEntity   = errors.New("entity is not the one being dragged")
	ErrSelfTarget    = errors.New("entity cannot be dropped onto itself")
	ErrUnknownTarget = errors.New("drop target is neither a column nor an entity")
	ErrStopped       = errors.New("board stopped")
)
