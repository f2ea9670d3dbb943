// Package connectivity keeps the node's radio associated to the configured
// wireless network.
package connectivity

import (
	"errors"
	"fmt"
)

// State is the radio connection lifecycle state
type State uint8

const (
	Disconnected State = iota
	Starting
	Associating
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Starting:
		return "STARTING"
	case Associating:
		return "ASSOCIATING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Event drives a state transition
type Event uint8

const (
	EventTick Event = iota
	EventStartCompleted
	EventStartFailed
	EventConnectSucceeded
	EventConnectFailed
	EventLinkLost
)

func (e Event) String() string {
	switch e {
	case EventTick:
		return "tick"
	case EventStartCompleted:
		return "start_completed"
	case EventStartFailed:
		return "start_failed"
	case EventConnectSucceeded:
		return "connect_succeeded"
	case EventConnectFailed:
		return "connect_failed"
	case EventLinkLost:
		return "link_lost"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// ErrInvalidTransition is returned for an event the current state does not accept
var ErrInvalidTransition = errors.New("invalid connectivity transition")

// Transition returns the state that follows s on event e. It performs no I/O.
// On an invalid pair the state is returned unchanged with ErrInvalidTransition.
func Transition(s State, e Event) (State, error) {
	switch s {
	case Disconnected:
		if e == EventTick {
			return Starting, nil
		}
	case Starting:
		switch e {
		case EventStartCompleted:
			return Associating, nil
		case EventStartFailed:
			return Disconnected, nil
		}
	case Associating:
		switch e {
		case EventConnectSucceeded:
			return Connected, nil
		case EventConnectFailed:
			return Starting, nil
		}
	case Connected:
		if e == EventLinkLost {
			return Disconnected, nil
		}
	}

	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}
