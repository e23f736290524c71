// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/camrelay/internal/metrics"
)

// Terminate stops a process group gracefully.
// It sends SIGTERM, waits for the exit to be observed on done, and sends SIGKILL
// if the process is still alive after grace. A second wait of grace bounds the
// call; if the process is still not reaped by then ErrKillFailed is returned.
// It is safe to call on nil commands and on processes that already exited.
func Terminate(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	signal(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		metrics.IncProcWait("graceful")
		return nil
	case <-timer.C:
	}

	signal(cmd, syscall.SIGKILL)

	timer.Reset(grace)
	select {
	case <-done:
		metrics.IncProcWait("forced")
		return nil
	case <-timer.C:
		metrics.IncProcWait("stuck")
		return ErrKillFailed
	}
}

func signal(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	switch err := Kill(cmd, sig); {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case isGone(err):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}
