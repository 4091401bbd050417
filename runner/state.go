package runner

import (
	"fmt"
)

// State is the lifecycle state of a consume loop.
type State int

const (
	StatePolling State = iota
	StatePausedForBackpressure
	StateSessionTimeout
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "Polling"
	case StatePausedForBackpressure:
		return "PausedForBackpressure"
	case StateSessionTimeout:
		return "SessionTimeout"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StatePolling:               {StatePausedForBackpressure, StateSessionTimeout, StateStopping},
	StatePausedForBackpressure: {StatePolling, StateSessionTimeout, StateStopping},
	StateSessionTimeout:        {StateStopping},
	StateStopping:              {StateStopped},
}

// CanTransition reports whether a loop in state s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
