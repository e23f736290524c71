// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

// State is the lifecycle state of the streaming session.
type State string

const (
	// StateIdle means nothing is requested; a kept relay may still run after
	// a failed camera stop.
	StateIdle State = "idle"

	// StateRequestingCamera means camera stream start is in flight or
	// waiting for a retry.
	StateRequestingCamera State = "requesting_camera"

	// StateAwaitingRelay means the camera streams and the relay is being
	// spawned or warming up before playback opens.
	StateAwaitingRelay State = "awaiting_relay"

	StatePlaying State = "playing"

	// StateUnhealthy means a health check failed and the relay chain is
	// being torn down for a restart.
	StateUnhealthy State = "unhealthy"

	StateStopping State = "stopping"

	// StateReleased is terminal.
	StateReleased State = "released"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool { return s == StateReleased }

var allStates = []string{
	string(StateIdle),
	string(StateRequestingCamera),
	string(StateAwaitingRelay),
	string(StatePlaying),
	string(StateUnhealthy),
	string(StateStopping),
	string(StateReleased),
}

// transitions lists the allowed edges. Released is reachable from every
// state and handled outside the coordination loop.
var transitions = map[State][]State{
	StateIdle:             {StateRequestingCamera, StateStopping},
	StateRequestingCamera: {StateAwaitingRelay, StateIdle, StateStopping},
	StateAwaitingRelay:    {StatePlaying, StateUnhealthy, StateStopping},
	StatePlaying:          {StateUnhealthy, StateStopping},
	StateUnhealthy:        {StateAwaitingRelay, StateStopping},
	StateStopping:         {StateIdle},
}

func canTransition(from, to State) bool {
	if to == StateReleased {
		return from != StateReleased
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
