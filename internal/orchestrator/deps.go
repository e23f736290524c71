// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"

	"github.com/ManuGH/camrelay/internal/playback"
	"github.com/ManuGH/camrelay/internal/relay"
)

var (
	ErrReleased = errors.New("orchestrator released")
	ErrNotIdle  = errors.New("session already active")

	errMissingDeps = errors.New("orchestrator requires camera, relay and sink")
)

// Camera controls the camera's stream output.
type Camera interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RelayHandle is the orchestrator's view of a running relay.
type RelayHandle interface {
	ID() string
	Running() bool
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Progress() relay.Progress
}

// Relay spawns and stops relay processes.
type Relay interface {
	Spawn(ctx context.Context, in, out string) (RelayHandle, error)
	Stop(ctx context.Context, h RelayHandle) error
}

// Deps are the collaborators driven by the orchestrator.
type Deps struct {
	Camera Camera
	Relay  Relay
	Sink   playback.Sink
}

// SupervisorRelay adapts a relay.Supervisor to Relay.
func SupervisorRelay(s *relay.Supervisor) Relay {
	return supervisorRelay{s: s}
}

type supervisorRelay struct {
	s *relay.Supervisor
}

func (r supervisorRelay) Spawn(ctx context.Context, in, out string) (RelayHandle, error) {
	h, err := r.s.Spawn(ctx, in, out)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r supervisorRelay) Stop(ctx context.Context, h RelayHandle) error {
	rh, ok := h.(*relay.Handle)
	if !ok || rh == nil {
		return nil
	}
	return r.s.Stop(ctx, rh)
}
