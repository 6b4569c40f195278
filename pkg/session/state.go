package session

import (
	"fmt"
	"time"
)

// State is the controller's position in the session state machine.
type State int

const (
	Idle State = iota
	Recording
	Replaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Replaying:
		return "replaying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition records one state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
