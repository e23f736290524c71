// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback renders the relay's output stream and reports whether
// playback is buffering or playing.
package playback

import (
	"fmt"
	"io"
	"strings"
)

// State is the rendering state of a Sink.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StatePlaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Buffering reports whether the state counts as buffering for the host.
func (s State) Buffering() bool {
	return s == StateIdle || s == StateBuffering
}

// Tuning holds low-latency rendering parameters.
type Tuning struct {
	NoDropLateFrames bool `yaml:"noDropLateFrames" json:"noDropLateFrames"`
	NoSkipFrames     bool `yaml:"noSkipFrames" json:"noSkipFrames"`
	NetworkCachingMs int  `yaml:"networkCachingMs" json:"networkCachingMs"`
	MinBufferMs      int  `yaml:"minBufferMs" json:"minBufferMs"`
	MaxBufferMs      int  `yaml:"maxBufferMs" json:"maxBufferMs"`
	HWDecode         bool `yaml:"hwDecode" json:"hwDecode"`
}

// DefaultTuning returns the tuning used when none is configured.
func DefaultTuning() Tuning {
	return Tuning{
		NoDropLateFrames: true,
		NoSkipFrames:     true,
		NetworkCachingMs: 1000,
		MinBufferMs:      50,
		MaxBufferMs:      100,
	}
}

// Sink renders a stream from a source URI. Implementations are safe for
// concurrent use. Subscribers are invoked synchronously on state changes
// and must not block or call back into the Sink.
type Sink interface {
	Open(uri string) error
	Play() error
	Stop() error
	Release() error
	Subscribe(fn func(State)) (unsubscribe func())
	State() State
}

// Backend names accepted by New.
const (
	BackendUDP  = "udp"
	BackendExec = "exec"
)

type options struct {
	exec    ExecConfig
	forward io.Writer
}

// Option configures New.
type Option func(*options)

// WithExecConfig configures the exec backend.
func WithExecConfig(cfg ExecConfig) Option {
	return func(o *options) { o.exec = cfg }
}

// WithForward copies every valid datagram received by the udp backend to w.
func WithForward(w io.Writer) Option {
	return func(o *options) { o.forward = w }
}

// New returns a Sink for the named backend.
func New(backend string, tuning Tuning, opts ...Option) (Sink, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendUDP, "":
		return NewUDPSink(tuning, o.forward), nil
	case BackendExec:
		return NewExecSink(tuning, o.exec), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
