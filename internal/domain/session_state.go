package domain

import "errors"

// SessionState is the lifecycle position of a local torrent session.
type SessionState string

const (
	StateFetchingMetadata SessionState = "fetching_metadata" // Waiting for the info dictionary.
	StateActive           SessionState = "active"            // Downloading.
	StatePaused           SessionState = "paused"            // Network activity halted.
	StateCompleted        SessionState = "completed"         // Selected data fully downloaded, auto-paused.
	StateRemoved          SessionState = "removed"           // Terminal.
)

var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[SessionState][]SessionState{
	StateFetchingMetadata: {StateActive, StatePaused, StateCompleted, StateRemoved},
	StateActive:           {StatePaused, StateCompleted, StateRemoved},
	StatePaused:           {StateActive, StateCompleted, StateRemoved},
	StateCompleted:        {StateActive, StateRemoved},
	StateRemoved:          {},
}

// CanTransition reports whether a transition from one state to another is valid.
func CanTransition(from, to SessionState) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Paused reports whether network activity is halted in this state.
func (s SessionState) Paused() bool {
	return s == StatePaused || s == StateCompleted
}
