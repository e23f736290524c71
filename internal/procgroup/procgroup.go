// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns subprocesses in their own process group so the
// whole tree (ffmpeg, player and any helpers they fork) can be signalled at once.
package procgroup

import (
	"errors"
)

var (
	ErrKillFailed = errors.New("kill operation failed")
)

func isGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return msg == "os: process already finished" || msg == "no such process"
}
