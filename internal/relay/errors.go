// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning reports a handle whose process is absent or has exited.
	ErrNotRunning = errors.New("relay not running")

	ErrEmptyURI = errors.New("relay input and output uri are required")
)

// SpawnError is returned when the relay process could not be started.
type SpawnError struct {
	Input  string
	Output string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn relay %s -> %s: %v", e.Input, e.Output, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// StopError is returned when a relay process could not be confirmed dead.
type StopError struct {
	HandleID string
	PID      int
	Err      error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop relay %s (pid %d): %v", e.HandleID, e.PID, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
