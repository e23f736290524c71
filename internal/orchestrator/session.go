// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Session is a read-only snapshot of the streaming session.
type Session struct {
	ID             string    `json:"id"`
	CameraBaseURL  string    `json:"cameraBaseUrl,omitempty"`
	InputURI       string    `json:"inputUri"`
	OutputURI      string    `json:"outputUri"`
	PlayerURI      string    `json:"playerUri"`
	State          State     `json:"state"`
	RestartEnabled bool      `json:"restartEnabled"`
	Buffering      bool      `json:"buffering"`
	PlaybackState  string    `json:"playbackState"`
	RelayHandleID  string    `json:"relayHandleId,omitempty"`
	CameraAttempts int       `json:"cameraAttempts"`
	Restarts       int       `json:"restarts"`
	LastError      string    `json:"lastError,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// maxPendingNotifications bounds the host notification queue. It is even so
// that dropping the oldest pair keeps the queued values alternating.
const maxPendingNotifications = 16

// hostNotifier delivers buffering changes to host subscribers, in order, on
// its own goroutine so that the coordination loop never blocks on a host
// callback. Consecutive equal values are collapsed.
//
// Release does not wait for this goroutine: a callback may call Release.
// Once closed, no further callback is started.
type hostNotifier struct {
	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
	closed bool
	last   int8 // last queued value: -1 none, 0 playing, 1 buffering
	queue  []bool

	wake chan struct{}
	done chan struct{}
}

func newHostNotifier() *hostNotifier {
	return &hostNotifier{
		subs: make(map[int]func(bool)),
		last: -1,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (h *hostNotifier) publish(buffering bool) {
	v := int8(0)
	if buffering {
		v = 1
	}
	h.mu.Lock()
	if h.closed || v == h.last {
		h.mu.Unlock()
		return
	}
	h.last = v
	if len(h.queue) >= maxPendingNotifications {
		h.queue = h.queue[2:]
	}
	h.queue = append(h.queue, buffering)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *hostNotifier) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			for {
				v, fns, ok := h.next()
				if !ok {
					break
				}
				for _, fn := range fns {
					if ctx.Err() != nil || !h.deliver(fn, v) {
						return
					}
				}
			}
		}
	}
}

// next pops the oldest queued value with a snapshot of the subscribers in
// subscription order.
func (h *hostNotifier) next() (bool, []func(bool), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.queue) == 0 {
		return false, nil, false
	}
	v := h.queue[0]
	h.queue = h.queue[1:]
	fns := make([]func(bool), 0, len(h.subs))
	for id := 0; id < h.nextID; id++ {
		if fn, ok := h.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	return v, fns, true
}

func (h *hostNotifier) deliver(fn func(bool), v bool) bool {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return false
	}
	fn(v)
	return true
}

func (h *hostNotifier) subscribe(fn func(bool)) func() {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// close drops all subscribers and pending values.
func (h *hostNotifier) close() {
	h.mu.Lock()
	h.closed = true
	h.subs = make(map[int]func(bool))
	h.queue = nil
	h.mu.Unlock()
}
