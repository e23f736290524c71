// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package relay supervises the ffmpeg process that re-packages the camera's
// UDP MPEG-TS feed into a stream a player can consume.
package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/procgroup"
)

const (
	defaultKillTimeout = 5 * time.Second
	stderrTailOnFail   = 20
)

// Config configures a Supervisor.
type Config struct {
	BinPath     string
	KillTimeout time.Duration
	ProbeSize   int
	PacketSize  int
	StderrLines int
}

// Supervisor starts and stops relay processes. It holds no per-process
// state; each Spawn returns an independent Handle.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a Supervisor, filling unset fields with defaults.
func New(cfg Config) *Supervisor {
	if strings.TrimSpace(cfg.BinPath) == "" {
		cfg.BinPath = "ffmpeg"
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultKillTimeout
	}
	if cfg.PacketSize == 0 {
		cfg.PacketSize = DefaultPacketSize
	}
	if cfg.StderrLines <= 0 {
		cfg.StderrLines = 256
	}
	return &Supervisor{cfg: cfg, logger: log.WithComponent("relay")}
}

// Spawn launches a relay from in to out and returns once the process has
// started. The process outlives ctx; it ends only via Stop or on its own.
func (s *Supervisor) Spawn(ctx context.Context, in, out string) (*Handle, error) {
	if strings.TrimSpace(in) == "" || strings.TrimSpace(out) == "" {
		spawnTotal.WithLabelValues("invalid").Inc()
		return nil, &SpawnError{Input: in, Output: out, Err: ErrEmptyURI}
	}
	if err := ctx.Err(); err != nil {
		spawnTotal.WithLabelValues("canceled").Inc()
		return nil, &SpawnError{Input: in, Output: out, Err: err}
	}

	h := newHandle(uuid.NewString(), in, out, s.cfg.StderrLines)
	args := BuildArgs(in, out, s.cfg.ProbeSize, s.cfg.PacketSize)
	cmd := exec.Command(s.cfg.BinPath, args...) // #nosec G204 -- binary is operator-configured
	procgroup.Set(cmd)
	h.cmd = cmd

	stderr, err := cmd.StderrPipe()
	if err != nil {
		spawnTotal.WithLabelValues("error").Inc()
		return nil, &SpawnError{Input: in, Output: out, Err: err}
	}

	logger := log.WithContext(ctx, s.logger).With().
		Str(log.FieldHandle, h.id).
		Str(log.FieldInputURI, in).
		Str(log.FieldOutputURI, out).
		Logger()

	h.startedAt = time.Now()
	if err := cmd.Start(); err != nil {
		spawnTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Str(log.FieldEvent, "relay.spawn_failed").Msg("failed to start relay")
		return nil, &SpawnError{Input: in, Output: out, Err: err}
	}

	spawnTotal.WithLabelValues("ok").Inc()
	activeHandles.Inc()
	logger = logger.With().Int(log.FieldPID, cmd.Process.Pid).Logger()
	logger.Info().Str(log.FieldEvent, "relay.started").Str("command", cmd.String()).Msg("relay started")

	go s.monitor(h, stderr, logger)
	return h, nil
}

// monitor drains stderr, reaps the process and publishes its exit status.
func (s *Supervisor) monitor(h *Handle, stderr io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if h.progress.ParseLine(line) {
			continue
		}
		h.ring.Add(line)
	}
	// Keep the pipe drained so the process never blocks on a full stderr.
	_, _ = io.Copy(io.Discard, stderr)

	waitErr := h.cmd.Wait()

	h.mu.Lock()
	st := ExitStatus{StartedAt: h.startedAt, EndedAt: time.Now()}
	switch {
	case h.stopping:
		st.Reason = ReasonStopped
	case waitErr == nil:
		st.Reason = ReasonClean
	default:
		st.Reason = ReasonError
		st.Err = waitErr
	}
	if h.cmd.ProcessState != nil {
		st.Code = h.cmd.ProcessState.ExitCode()
	}
	h.status = st
	h.mu.Unlock()

	activeHandles.Dec()
	exitTotal.WithLabelValues(st.Reason).Inc()
	close(h.done)

	evt := logger.Info()
	if st.Reason == ReasonError {
		evt = logger.Warn().Err(waitErr).Strs("stderr", h.ring.LastN(stderrTailOnFail))
	}
	evt.Str(log.FieldEvent, "relay.exited").
		Int(log.FieldExitCode, st.Code).
		Str("reason", st.Reason).
		Dur("uptime", st.EndedAt.Sub(st.StartedAt)).
		Msg("relay exited")
}

// Stop terminates the relay's process group and waits until it is reaped,
// escalating from SIGTERM to SIGKILL after the kill timeout. It is a no-op
// for nil handles and processes that already exited, and safe to call
// more than once.
func (s *Supervisor) Stop(ctx context.Context, h *Handle) error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		h.setStopping()
		logger := log.WithContext(ctx, s.logger).With().
			Str(log.FieldHandle, h.id).
			Int(log.FieldPID, h.PID()).
			Logger()
		logger.Debug().Str(log.FieldEvent, "relay.stopping").Msg("stopping relay")

		if err := procgroup.Terminate(h.cmd, h.done, s.cfg.KillTimeout); err != nil {
			h.stopErr = &StopError{HandleID: h.id, PID: h.PID(), Err: err}
			logger.Error().Err(err).Str(log.FieldEvent, "relay.stop_failed").Msg("relay did not exit after SIGKILL")
		}
	})
	if h.stopErr != nil {
		return h.stopErr
	}
	<-h.done
	return nil
}

// Run spawns a relay and blocks until it exits or ctx is done, in which case
// the relay is stopped before returning.
func (s *Supervisor) Run(ctx context.Context, in, out string) (ExitStatus, error) {
	h, err := s.Spawn(ctx, in, out)
	if err != nil {
		return ExitStatus{}, err
	}
	st, err := h.Wait(ctx)
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		return st, err
	}

	stopCtx := context.WithoutCancel(ctx)
	if stopErr := s.Stop(stopCtx, h); stopErr != nil {
		return ExitStatus{}, errors.Join(ctx.Err(), stopErr)
	}
	st, _ = h.ExitStatus()
	return st, ctx.Err()
}
