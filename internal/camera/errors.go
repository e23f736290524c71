// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"errors"
	"fmt"

	"github.com/ManuGH/camrelay/internal/resilience"
)

var (
	// ErrCircuitOpen is returned (wrapped in a RequestError) while the camera
	// endpoint is considered down and requests are short-circuited.
	ErrCircuitOpen = resilience.ErrCircuitOpen

	// ErrUnexpectedStatus marks a response outside the 2xx range.
	ErrUnexpectedStatus = errors.New("unexpected status")

	ErrInvalidSerial    = errors.New("camera serial must end with three digits")
	ErrNoWiredInterface = errors.New("no local interface on the camera usb network")
)

// RequestError is the failure outcome of a camera control call.
// It covers network errors, timeouts and non-2xx responses.
type RequestError struct {
	Op     string // control operation, e.g. "stream/start"
	Status int    // HTTP status, 0 when no response was received
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("camera %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Reason returns a short failure reason suitable for logs and session snapshots.
func (e *RequestError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrCircuitOpen):
		return "circuit_open"
	case e.Status > 0:
		return fmt.Sprintf("http_%d", e.Status)
	default:
		return "network"
	}
}
