// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"errors"
	"fmt"
)

var (
	ErrReleased       = errors.New("playback sink released")
	ErrNotOpen        = errors.New("playback sink has no source")
	ErrUnknownBackend = errors.New("unknown playback backend")
)

// OpenError is returned when a source could not be opened or started.
type OpenError struct {
	URI string
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open playback source %s: %v", e.URI, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }
