// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camrelay/internal/playback"
	"github.com/ManuGH/camrelay/internal/relay"
)

var errCameraDown = errors.New("camera unreachable")

type fakeCamera struct {
	mu        sync.Mutex
	startErrs []error
	stopErr   error
	// startGate, when set, holds Start until it is closed.
	startGate chan struct{}

	startCalls atomic.Int32
	stopCalls  atomic.Int32
	streaming  atomic.Bool
}

func (c *fakeCamera) Start(ctx context.Context) error {
	c.startCalls.Add(1)
	c.mu.Lock()
	gate := c.startGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if len(c.startErrs) == 0 {
		err = ctx.Err()
	} else {
		err = c.startErrs[0]
		c.startErrs = c.startErrs[1:]
	}
	if err == nil {
		c.streaming.Store(true)
	}
	return err
}

func (c *fakeCamera) Stop(context.Context) error {
	c.stopCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopErr == nil {
		c.streaming.Store(false)
	}
	return c.stopErr
}

type fakeHandle struct {
	id       string
	running  atomic.Bool
	ready    chan struct{}
	done     chan struct{}
	exitOnce sync.Once
	stopped  atomic.Bool
}

func newFakeHandle(id string) *fakeHandle {
	h := &fakeHandle{id: id, ready: make(chan struct{}), done: make(chan struct{})}
	h.running.Store(true)
	return h
}

func (h *fakeHandle) ID() string               { return h.id }
func (h *fakeHandle) Running() bool            { return h.running.Load() }
func (h *fakeHandle) Ready() <-chan struct{}   { return h.ready }
func (h *fakeHandle) Done() <-chan struct{}    { return h.done }
func (h *fakeHandle) Progress() relay.Progress { return relay.Progress{LastAdvanceAt: time.Now()} }

// exit simulates the relay process dying on its own.
func (h *fakeHandle) exit() {
	h.exitOnce.Do(func() {
		h.running.Store(false)
		close(h.done)
	})
}

type fakeRelay struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	spawnErrs []error
	readyNow  bool

	active     int
	maxActive  int
	spawnCalls atomic.Int32
	stopCalls  atomic.Int32
	nilStops   atomic.Int32
	inputs     []string
	outputs    []string
}

func (r *fakeRelay) Spawn(_ context.Context, in, out string) (RelayHandle, error) {
	n := r.spawnCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	r.outputs = append(r.outputs, out)
	if len(r.spawnErrs) > 0 {
		err := r.spawnErrs[0]
		r.spawnErrs = r.spawnErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	h := newFakeHandle(fmt.Sprintf("relay-%d", n))
	if r.readyNow {
		close(h.ready)
	}
	r.handles = append(r.handles, h)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	return h, nil
}

func (r *fakeRelay) Stop(_ context.Context, h RelayHandle) error {
	r.stopCalls.Add(1)
	if h == nil {
		r.nilStops.Add(1)
		return nil
	}
	fh := h.(*fakeHandle)
	fh.exit()
	if fh.stopped.Swap(true) {
		return nil
	}
	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return nil
}

func (r *fakeRelay) last() *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handles) == 0 {
		return nil
	}
	return r.handles[len(r.handles)-1]
}

func (r *fakeRelay) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRelay) peakActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

// fakeSink reaches Playing as soon as Play is called.
type fakeSink struct {
	mu      sync.Mutex
	state   playback.State
	subs    map[int]func(playback.State)
	nextID  int
	opened  []string
	openErr error

	stopCalls    atomic.Int32
	releaseCalls atomic.Int32
}

func newFakeSink() *fakeSink {
	return &fakeSink{subs: make(map[int]func(playback.State))}
}

func (s *fakeSink) set(st playback.State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	fns := make([]func(playback.State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *fakeSink) Open(uri string) error {
	s.mu.Lock()
	s.opened = append(s.opened, uri)
	err := s.openErr
	s.mu.Unlock()
	return err
}

func (s *fakeSink) Play() error {
	s.set(playback.StateBuffering)
	s.set(playback.StatePlaying)
	return nil
}

func (s *fakeSink) Stop() error {
	s.stopCalls.Add(1)
	s.mu.Lock()
	idle := s.state == playback.StateIdle
	s.mu.Unlock()
	if !idle {
		s.set(playback.StateStopped)
	}
	return nil
}

func (s *fakeSink) Release() error {
	s.releaseCalls.Add(1)
	return nil
}

func (s *fakeSink) Subscribe(fn func(playback.State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSink) State() playback.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSink) opens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

// transitionLog records state transitions in order.
type transitionLog struct {
	mu    sync.Mutex
	steps [][2]State
}

func (l *transitionLog) record(from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, [2]State{from, to})
}

func (l *transitionLog) count(to State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.steps {
		if s[1] == to {
			n++
		}
	}
	return n
}
