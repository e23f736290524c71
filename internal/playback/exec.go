// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/procgroup"
	"github.com/ManuGH/camrelay/internal/relay"
)

// DefaultStatusPattern matches ffplay's periodic status line, e.g.
// "   3.52 M-V:  0.001 fd=   0 aq=    0KB vq=  112KB sq=    0B".
const DefaultStatusPattern = `(?:M-V|A-V|M-A)\s*:`

const defaultPlayerKillTimeout = 2 * time.Second

var errEmptySource = errors.New("empty source uri")

// ExecConfig configures the external player backend.
type ExecConfig struct {
	BinPath       string        `yaml:"binPath" json:"binPath"`
	ExtraArgs     []string      `yaml:"extraArgs" json:"extraArgs"`
	StatusPattern string        `yaml:"statusPattern" json:"statusPattern"`
	KillTimeout   time.Duration `yaml:"killTimeout" json:"killTimeout"`
}

// PlayerArgs returns the ffplay command line for uri under the given tuning.
func PlayerArgs(t Tuning, uri string, extra []string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-stats",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-an",
	}
	if t.NoDropLateFrames {
		args = append(args, "-noframedrop")
	} else {
		args = append(args, "-framedrop")
	}
	if !t.NoSkipFrames {
		args = append(args, "-skip_frame", "noref")
	}
	if t.MinBufferMs > 0 {
		args = append(args, "-analyzeduration", strconv.Itoa(t.MinBufferMs*1000))
	}
	if t.MaxBufferMs > 0 {
		args = append(args, "-max_delay", strconv.Itoa(t.MaxBufferMs*1000))
	}
	if t.HWDecode {
		args = append(args, "-hwaccel", "auto")
	}
	args = append(args, extra...)
	return append(args, "-i", uri)
}

// ExecSink renders through an external player process. It reports Buffering
// until the first status line, Playing while status lines keep arriving and
// Stopped when the process exits.
type ExecSink struct {
	tuning Tuning
	cfg    ExecConfig
	status *regexp.Regexp
	n      *notifier

	// op serializes Open/Play/Stop/Release; mu guards the fields below.
	op       sync.Mutex
	mu       sync.Mutex
	uri      string
	cmd      *exec.Cmd
	done     chan struct{}
	released bool

	lastStatus atomic.Int64
	lines      *relay.LineRing
}

var _ Sink = (*ExecSink)(nil)

// NewExecSink creates an external player sink.
func NewExecSink(tuning Tuning, cfg ExecConfig) *ExecSink {
	if strings.TrimSpace(cfg.BinPath) == "" {
		cfg.BinPath = "ffplay"
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultPlayerKillTimeout
	}
	s := &ExecSink{
		tuning: tuning,
		cfg:    cfg,
		n:      newNotifier(BackendExec),
		lines:  relay.NewLineRing(32),
	}
	pattern := cfg.StatusPattern
	if pattern == "" {
		pattern = DefaultStatusPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		s.n.logger.Warn().Err(err).Str("pattern", pattern).Msg("invalid status pattern, using default")
		re = regexp.MustCompile(DefaultStatusPattern)
	}
	s.status = re
	return s
}

// Open sets the source URI. A running player is stopped first.
func (s *ExecSink) Open(uri string) error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.isReleased() {
		return ErrReleased
	}
	if strings.TrimSpace(uri) == "" {
		return &OpenError{URI: uri, Err: errEmptySource}
	}
	s.terminate()

	s.mu.Lock()
	s.uri = uri
	s.mu.Unlock()
	s.n.set(StateIdle)
	return nil
}

// Play launches the player. It is a no-op while the player runs.
func (s *ExecSink) Play() error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if s.uri == "" {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.cmd != nil {
		s.mu.Unlock()
		return nil
	}
	uri := s.uri
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.BinPath, PlayerArgs(s.tuning, uri, s.cfg.ExtraArgs)...) // #nosec G204 -- binary is operator-configured
	procgroup.Set(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &OpenError{URI: uri, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &OpenError{URI: uri, Err: err}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.mu.Unlock()
	s.lastStatus.Store(0)

	s.n.logger.Info().
		Str(log.FieldSourceURI, uri).
		Int(log.FieldPID, cmd.Process.Pid).
		Str(log.FieldEvent, "playback.player_started").
		Msg("player started")
	s.n.set(StateBuffering)

	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.watchStall(stopWatch)
	}()
	go s.monitor(cmd, stderr, done, stopWatch, watchDone)
	return nil
}

func (s *ExecSink) monitor(cmd *exec.Cmd, stderr io.Reader, done, stopWatch chan struct{}, watchDone <-chan struct{}) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	scanner.Split(scanStatusLines)
	for scanner.Scan() {
		line := scanner.Text()
		if s.status.MatchString(line) {
			s.lastStatus.Store(time.Now().UnixNano())
			s.n.set(StatePlaying)
			continue
		}
		s.lines.Add(line)
	}
	_, _ = io.Copy(io.Discard, stderr)
	close(stopWatch)
	<-watchDone
	waitErr := cmd.Wait()
	close(done)

	s.mu.Lock()
	exitedOnItsOwn := s.cmd == cmd
	if exitedOnItsOwn {
		s.cmd = nil
		s.done = nil
	}
	s.mu.Unlock()

	if exitedOnItsOwn {
		s.n.logger.Warn().
			Err(waitErr).
			Strs("stderr", s.lines.LastN(10)).
			Str(log.FieldEvent, "playback.player_exited").
			Msg("player exited")
		s.n.set(StateStopped)
	}
}

// watchStall moves Playing back to Buffering when status lines stop.
func (s *ExecSink) watchStall(stop <-chan struct{}) {
	stallAfter := time.Duration(s.tuning.NetworkCachingMs) * time.Millisecond
	if stallAfter <= 0 {
		stallAfter = defaultStallAfter
	}
	interval := stallAfter / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			last := s.lastStatus.Load()
			if last == 0 || s.n.current() != StatePlaying {
				continue
			}
			if now.Sub(time.Unix(0, last)) > stallAfter {
				stallTotal.Inc()
				s.n.logger.Info().Str(log.FieldEvent, "playback.stall").Dur("after", stallAfter).Msg("player stalled, buffering")
				s.n.set(StateBuffering)
			}
		}
	}
}

// scanStatusLines splits on '\n' or '\r'; ffplay rewrites its status line
// in place with carriage returns.
func scanStatusLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// terminate stops the running player, if any. Callers hold s.op.
func (s *ExecSink) terminate() {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.cmd, s.done = nil, nil
	s.mu.Unlock()
	if cmd == nil {
		return
	}
	if err := procgroup.Terminate(cmd, done, s.cfg.KillTimeout); err != nil {
		s.n.logger.Error().Err(err).Int(log.FieldPID, cmd.Process.Pid).Msg("player did not exit")
	}
}

// Stop terminates the player.
func (s *ExecSink) Stop() error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.isReleased() {
		return nil
	}
	s.terminate()
	s.n.set(StateStopped)
	return nil
}

// Release terminates the player for good and drops all subscribers.
func (s *ExecSink) Release() error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.isReleased() {
		return nil
	}
	s.terminate()
	s.mu.Lock()
	s.released = true
	s.uri = ""
	s.mu.Unlock()
	s.n.set(StateStopped)
	s.n.clear()
	return nil
}

func (s *ExecSink) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *ExecSink) Subscribe(fn func(State)) func() { return s.n.subscribe(fn) }

func (s *ExecSink) State() State { return s.n.current() }
