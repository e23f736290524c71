// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camrelay/internal/log"
)

// notifier tracks the current state and fans out changes to subscribers.
// Repeated identical states are suppressed. Deliveries are serialized so
// subscribers observe transitions in order.
type notifier struct {
	deliver sync.Mutex

	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
	logger zerolog.Logger
}

func newNotifier(backend string) *notifier {
	return &notifier{
		subs:   make(map[int]func(State)),
		logger: log.WithComponent("playback").With().Str(log.FieldBackend, backend).Logger(),
	}
}

func (n *notifier) current() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// set moves to s and notifies subscribers. It returns false if s was
// already the current state.
func (n *notifier) set(s State) bool {
	n.deliver.Lock()
	defer n.deliver.Unlock()

	n.mu.Lock()
	old := n.state
	if old == s {
		n.mu.Unlock()
		return false
	}
	n.state = s
	fns := make([]func(State), 0, len(n.subs))
	for id := 0; id < n.nextID; id++ {
		if fn, ok := n.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	stateGauge(old, s)
	n.logger.Debug().
		Str(log.FieldOldState, old.String()).
		Str(log.FieldNewState, s.String()).
		Msg("playback state changed")

	for _, fn := range fns {
		fn(s)
	}
	return true
}

func (n *notifier) subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) clear() {
	n.mu.Lock()
	n.subs = make(map[int]func(State))
	n.mu.Unlock()
}
