// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Exit reasons recorded in ExitStatus.Reason.
const (
	ReasonClean   = "clean"
	ReasonStopped = "stopped"
	ReasonError   = "error"
)

// ExitStatus describes how a relay process ended.
type ExitStatus struct {
	Code      int
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Handle owns one running relay process. It is created by Supervisor.Spawn
// and invalidated by Supervisor.Stop or by the process exiting on its own.
type Handle struct {
	id        string
	input     string
	output    string
	cmd       *exec.Cmd
	startedAt time.Time

	ring     *LineRing
	progress *progressTracker

	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	status   ExitStatus
	stopping bool
	stopOnce sync.Once
	stopErr  error
}

func newHandle(id, in, out string, ringSize int) *Handle {
	h := &Handle{
		id:     id,
		input:  in,
		output: out,
		ring:   NewLineRing(ringSize),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	h.progress = newProgressTracker(h.markReady)
	return h
}

func (h *Handle) markReady() {
	h.readyOnce.Do(func() {
		readyLatency.Observe(time.Since(h.startedAt).Seconds())
		close(h.ready)
	})
}

func (h *Handle) ID() string           { return h.id }
func (h *Handle) InputURI() string     { return h.input }
func (h *Handle) OutputURI() string    { return h.output }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// PID returns the process id, or 0 if the process never started.
func (h *Handle) PID() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Ready is closed once the relay first reports output progress.
// It is never closed for a relay that exits without producing output.
func (h *Handle) Ready() <-chan struct{} { return h.ready }

// Running reports whether the process is alive and not being stopped.
func (h *Handle) Running() bool {
	return h.Check() == nil
}

// Check returns nil while the relay is running, ErrNotRunning otherwise.
func (h *Handle) Check() error {
	if h == nil || h.cmd == nil {
		return ErrNotRunning
	}
	select {
	case <-h.done:
		st := h.exitStatus()
		return fmt.Errorf("%w: exited (%s, code %d)", ErrNotRunning, st.Reason, st.Code)
	default:
	}
	h.mu.Lock()
	stopping := h.stopping
	h.mu.Unlock()
	if stopping {
		return fmt.Errorf("%w: stopping", ErrNotRunning)
	}
	return nil
}

// ExitStatus returns the exit status and true once the process has exited.
func (h *Handle) ExitStatus() (ExitStatus, bool) {
	select {
	case <-h.done:
		return h.exitStatus(), true
	default:
		return ExitStatus{}, false
	}
}

func (h *Handle) exitStatus() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		st := h.exitStatus()
		return st, st.Err
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// LastLines returns up to n of the most recent non-progress stderr lines.
func (h *Handle) LastLines(n int) []string {
	return h.ring.LastN(n)
}

// Progress returns the latest progress snapshot.
func (h *Handle) Progress() Progress {
	return h.progress.Snapshot()
}

func (h *Handle) setStopping() {
	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()
}
