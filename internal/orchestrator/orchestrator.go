// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator sequences camera start, relay spawn and playback for
// one streaming session, checks its health and restarts the relay chain
// when playback stops progressing.
//
// All session state is owned by a single coordination goroutine. Blocking
// collaborator calls run on a worker pool and report back as events; timers
// post events tagged with a generation so that stale ones are dropped.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/metrics"
	"github.com/ManuGH/camrelay/internal/playback"
	"github.com/ManuGH/camrelay/internal/workers"
)

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evSetRestart
	evCameraStarted
	evCameraStopped
	evRetry
	evSpawn
	evGrace
	evRelayReady
	evHealth
	evRelayStopped
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evStop:
		return "stop"
	case evSetRestart:
		return "set_restart"
	case evCameraStarted:
		return "camera_started"
	case evCameraStopped:
		return "camera_stopped"
	case evRetry:
		return "retry"
	case evSpawn:
		return "spawn"
	case evGrace:
		return "grace"
	case evRelayReady:
		return "relay_ready"
	case evHealth:
		return "health"
	case evRelayStopped:
		return "relay_stopped"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type event struct {
	kind    eventKind
	gen     uint64
	err     error
	enabled bool
	reply   chan error
}

// Orchestrator drives one streaming session. Create it with New and call
// Release when done.
type Orchestrator struct {
	cfg    Config
	camera Camera
	relay  Relay
	sink   playback.Sink
	logger zerolog.Logger
	now    func() time.Time

	events    chan event
	sinkWake  chan struct{}
	pool      *workers.Pool
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	bg        sync.WaitGroup
	unsubSink func()
	host      *hostNotifier

	releaseOnce sync.Once
	released    atomic.Bool
	current     atomic.Value // State

	snapMu  sync.RWMutex
	session Session

	onTransition func(from, to State)

	// Owned by the coordination loop.
	state             State
	gen               uint64
	timer             *time.Timer
	restartEnabled    bool
	rh                RelayHandle
	spawnedAt         time.Time
	relayStopping     bool
	spawnPending      bool
	cameraStopPending bool
	// cameraStarting is set while a Camera.Start call is in flight. A stop
	// requested meanwhile is held back until the start result arrives.
	cameraStarting bool
	stopDeferred   bool
	playbackOpened    bool
}

// New creates an orchestrator in StateIdle and starts its coordination loop.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Camera == nil || deps.Relay == nil || deps.Sink == nil {
		return nil, errMissingDeps
	}
	cfg = cfg.withDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(log.ContextWithSessionID(context.Background(), id))
	o := &Orchestrator{
		cfg:            cfg,
		camera:         deps.Camera,
		relay:          deps.Relay,
		sink:           deps.Sink,
		logger:         log.WithComponent("orchestrator").With().Str(log.FieldSessionID, id).Logger(),
		now:            time.Now,
		events:         make(chan event, 32),
		sinkWake:       make(chan struct{}, 1),
		pool:           workers.New("orchestrator", cfg.Workers, cfg.WorkerQueue),
		ctx:            ctx,
		cancel:         cancel,
		loopDone:       make(chan struct{}),
		host:           newHostNotifier(),
		state:          StateIdle,
		restartEnabled: cfg.RestartEnabled,
	}
	o.current.Store(StateIdle)
	o.session = Session{
		ID:             id,
		CameraBaseURL:  cfg.CameraBaseURL,
		InputURI:       cfg.InputURI,
		OutputURI:      cfg.OutputURI,
		PlayerURI:      cfg.PlayerURI,
		State:          StateIdle,
		RestartEnabled: cfg.RestartEnabled,
		Buffering:      true,
		PlaybackState:  deps.Sink.State().String(),
		UpdatedAt:      o.now(),
	}
	metrics.SetSessionState(string(StateIdle), allStates)

	o.unsubSink = o.sink.Subscribe(func(st playback.State) {
		// sink deliveries are serialized, so every buffering edge reaches
		// the host queue in order
		o.host.publish(st.Buffering())
		select {
		case o.sinkWake <- struct{}{}:
		default:
		}
	})

	go o.host.run(ctx)
	go o.run()

	o.logger.Info().
		Str(log.FieldInputURI, cfg.InputURI).
		Str(log.FieldOutputURI, cfg.OutputURI).
		Str(log.FieldSourceURI, cfg.PlayerURI).
		Bool("restart_enabled", cfg.RestartEnabled).
		Msg("orchestrator created")
	return o, nil
}

// Start begins a session: camera start, relay spawn, then playback.
// It returns ErrNotIdle unless the session is idle.
func (o *Orchestrator) Start() error {
	return o.request(event{kind: evStart})
}

// Stop requests the camera to stop and, on success, tears down relay and
// playback. It is a no-op when nothing is running.
func (o *Orchestrator) Stop() error {
	return o.request(event{kind: evStop})
}

// SetRestartEnabled toggles camera-start retries and health-check restarts.
func (o *Orchestrator) SetRestartEnabled(enabled bool) error {
	return o.request(event{kind: evSetRestart, enabled: enabled})
}

func (o *Orchestrator) request(ev event) error {
	if o.released.Load() {
		return ErrReleased
	}
	ev.reply = make(chan error, 1)
	if !o.post(ev) {
		return ErrReleased
	}
	select {
	case err := <-ev.reply:
		return err
	case <-o.loopDone:
		return ErrReleased
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return o.current.Load().(State)
}

// Session returns a snapshot of the session.
func (o *Orchestrator) Session() Session {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.session
}

// Subscribe registers fn for buffering changes. fn runs on a dedicated
// goroutine; repeated identical values are not delivered.
func (o *Orchestrator) Subscribe(fn func(buffering bool)) (unsubscribe func()) {
	return o.host.subscribe(fn)
}

// Release tears the session down for good: it stops the coordination loop
// and pending timers, then stops playback, releases the sink, stops the
// relay and drains the worker pool. It is safe to call more than once, from
// any state and from a Subscribe callback. No callback starts after Release
// returns.
func (o *Orchestrator) Release() error {
	o.releaseOnce.Do(func() {
		o.released.Store(true)
		o.cancel()
		o.host.close()
		<-o.loopDone

		if err := o.sink.Stop(); err != nil {
			o.logger.Warn().Err(err).Msg("playback stop failed during release")
		}
		if err := o.sink.Release(); err != nil {
			o.logger.Warn().Err(err).Msg("playback release failed")
		}
		o.unsubSink()

		if o.rh != nil {
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RelayStopTimeout)
			if err := o.relay.Stop(ctx, o.rh); err != nil {
				o.logger.Error().Err(err).Str(log.FieldEvent, "relay.stop_failed").Msg("relay stop failed during release")
			}
			cancel()
			o.rh = nil
		}
		o.pool.Close()
		o.bg.Wait()

		from := o.state
		o.setState(StateReleased)
		o.logger.Info().
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(StateReleased)).
			Msg("orchestrator released")
	})
	return nil
}

func (o *Orchestrator) post(ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *Orchestrator) run() {
	defer close(o.loopDone)
	defer o.stopTimer()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.sinkWake:
			o.onSinkChanged()
		case ev := <-o.events:
			o.dispatch(ev)
		}
	}
}

func (o *Orchestrator) dispatch(ev event) {
	switch ev.kind {
	case evStart:
		ev.reply <- o.onStart()
	case evStop:
		ev.reply <- o.onStop()
	case evSetRestart:
		o.onSetRestart(ev.enabled)
		ev.reply <- nil
	case evCameraStarted:
		o.onCameraStarted(ev)
	case evCameraStopped:
		o.onCameraStopped(ev)
	case evRelayStopped:
		o.onRelayStopped(ev)
	default:
		if ev.gen != o.gen {
			o.logger.Debug().Str(log.FieldEvent, ev.kind.String()).Uint64(log.FieldGeneration, ev.gen).Msg("dropping stale event")
			return
		}
		switch ev.kind {
		case evRetry:
			o.onRetry()
		case evSpawn:
			o.onSpawn()
		case evGrace, evRelayReady:
			o.onGrace(ev.kind)
		case evHealth:
			o.onHealth()
		}
	}
}

// invalidate cancels the pending timer and makes every in-flight timer or
// worker result stale.
func (o *Orchestrator) invalidate() {
	o.gen++
	o.stopTimer()
}

func (o *Orchestrator) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) schedule(d time.Duration, kind eventKind) {
	o.stopTimer()
	gen := o.gen
	o.timer = time.AfterFunc(d, func() {
		o.post(event{kind: kind, gen: gen})
	})
}

func (o *Orchestrator) transition(to State) {
	from := o.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		o.logger.Error().
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Msg("invalid state transition")
		return
	}
	o.setState(to)
	o.logger.Info().
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Uint64(log.FieldGeneration, o.gen).
		Msg("session state changed")
}

func (o *Orchestrator) setState(to State) {
	from := o.state
	o.state = to
	o.current.Store(to)
	metrics.RecordSessionTransition(string(from), string(to))
	metrics.SetSessionState(string(to), allStates)
	o.updateSession(func(s *Session) { s.State = to })
	if o.onTransition != nil {
		o.onTransition(from, to)
	}
}

func (o *Orchestrator) updateSession(fn func(*Session)) {
	o.snapMu.Lock()
	fn(&o.session)
	o.session.UpdatedAt = o.now()
	o.snapMu.Unlock()
}

func (o *Orchestrator) recordError(err error) {
	o.updateSession(func(s *Session) { s.LastError = err.Error() })
}

func (o *Orchestrator) onStart() error {
	if o.state != StateIdle {
		return ErrNotIdle
	}
	o.invalidate()
	o.transition(StateRequestingCamera)
	o.updateSession(func(s *Session) {
		s.StartedAt = o.now()
		s.LastError = ""
	})
	o.requestCamera()
	return nil
}

func (o *Orchestrator) requestCamera() {
	gen := o.gen
	o.cameraStarting = true
	o.updateSession(func(s *Session) { s.CameraAttempts++ })
	err := o.pool.Submit(func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CameraTimeout)
		defer cancel()
		err := o.camera.Start(cctx)
		o.post(event{kind: evCameraStarted, gen: gen, err: err})
	})
	if err != nil {
		o.onCameraStarted(event{gen: gen, err: fmt.Errorf("submit camera start: %w", err)})
	}
}

func (o *Orchestrator) onCameraStarted(ev event) {
	o.cameraStarting = false
	if o.stopDeferred {
		o.stopDeferred = false
		if ev.err != nil {
			o.logger.Debug().Err(ev.err).Msg("camera start failed while stopping")
		}
		o.stopCamera()
		return
	}
	if ev.gen != o.gen || o.state != StateRequestingCamera {
		o.logger.Debug().Str(log.FieldEvent, "camera_started").Msg("dropping stale camera start result")
		return
	}
	if ev.err != nil {
		metrics.CameraStartAttempts.WithLabelValues("failure").Inc()
		o.recordError(ev.err)
		if o.restartEnabled {
			o.logger.Warn().Err(ev.err).Dur("retry_in", o.cfg.RetryBackoff).Msg("camera start failed, retrying")
			o.schedule(o.cfg.RetryBackoff, evRetry)
			return
		}
		o.logger.Warn().Err(ev.err).Msg("camera start failed, restart disabled")
		o.transition(StateIdle)
		return
	}

	metrics.CameraStartAttempts.WithLabelValues("success").Inc()
	o.transition(StateAwaitingRelay)
	o.playbackOpened = false
	o.schedule(o.cfg.SpawnDelay, evSpawn)
}

func (o *Orchestrator) onRetry() {
	if o.state != StateRequestingCamera {
		return
	}
	if !o.restartEnabled {
		o.logger.Info().Msg("restart disabled, abandoning camera start")
		o.transition(StateIdle)
		return
	}
	o.requestCamera()
}

func (o *Orchestrator) onSpawn() {
	if o.state != StateAwaitingRelay {
		return
	}
	o.spawnRelay()
}

// spawnRelay starts a new relay. A previous handle is stopped first and the
// spawn resumes once the stop is confirmed.
func (o *Orchestrator) spawnRelay() {
	if o.relayStopping {
		o.spawnPending = true
		return
	}
	if o.rh != nil {
		h := o.rh
		o.rh = nil
		o.spawnPending = true
		o.stopRelay(h)
		return
	}
	o.spawnPending = false
	o.playbackOpened = false

	h, err := o.relay.Spawn(o.ctx, o.cfg.InputURI, o.cfg.OutputURI)
	o.spawnedAt = o.now()
	if err != nil {
		o.logger.Error().Err(err).Str(log.FieldEvent, "relay.spawn_failed").Msg("relay spawn failed, waiting for health check")
		o.recordError(err)
		o.updateSession(func(s *Session) { s.RelayHandleID = "" })
		o.schedule(o.cfg.HealthInterval, evHealth)
		return
	}
	o.rh = h
	o.updateSession(func(s *Session) { s.RelayHandleID = h.ID() })
	o.logger.Info().Str(log.FieldHandle, h.ID()).Msg("relay spawned")

	o.schedule(o.cfg.GraceDelay, evGrace)
	if o.cfg.ReadinessProbe {
		o.watchReady(h, o.gen)
	}
}

func (o *Orchestrator) watchReady(h RelayHandle, gen uint64) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		select {
		case <-h.Ready():
			o.post(event{kind: evRelayReady, gen: gen})
		case <-h.Done():
		case <-o.ctx.Done():
		}
	}()
}

func (o *Orchestrator) stopRelay(h RelayHandle) {
	o.relayStopping = true
	err := o.pool.Submit(func(ctx context.Context) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RelayStopTimeout)
		defer cancel()
		err := o.relay.Stop(sctx, h)
		o.post(event{kind: evRelayStopped, err: err})
	})
	if err != nil {
		sctx, cancel := context.WithTimeout(context.Background(), o.cfg.RelayStopTimeout)
		defer cancel()
		o.onRelayStopped(event{err: o.relay.Stop(sctx, h)})
	}
}

func (o *Orchestrator) onRelayStopped(ev event) {
	o.relayStopping = false
	if ev.err != nil {
		o.logger.Error().Err(ev.err).Str(log.FieldEvent, "relay.stop_failed").Msg("relay stop failed")
	}
	o.updateSession(func(s *Session) { s.RelayHandleID = "" })

	switch o.state {
	case StateUnhealthy:
		o.transition(StateAwaitingRelay)
		o.spawnRelay()
	case StateAwaitingRelay:
		if o.spawnPending {
			o.spawnRelay()
		}
	case StateStopping:
		o.maybeFinishStop()
	}
}

func (o *Orchestrator) onGrace(kind eventKind) {
	if o.state != StateAwaitingRelay || o.playbackOpened || o.spawnPending {
		return
	}
	o.logger.Debug().Str(log.FieldEvent, kind.String()).Msg("opening playback")
	o.openPlayback()
}

func (o *Orchestrator) openPlayback() {
	o.playbackOpened = true
	if o.rh == nil || !o.rh.Running() {
		metrics.PlaybackOpens.WithLabelValues("relay_down").Inc()
		o.logger.Warn().Msg("relay not running, playback not opened")
		o.schedule(o.cfg.HealthInterval, evHealth)
		return
	}

	uri := o.cfg.PlayerURI
	err := o.sink.Open(uri)
	if err == nil {
		err = o.sink.Play()
	}
	if err != nil {
		metrics.PlaybackOpens.WithLabelValues("failure").Inc()
		o.logger.Warn().Err(err).Str(log.FieldSourceURI, uri).Msg("playback open failed, waiting for health check")
		o.recordError(err)
		o.schedule(o.cfg.HealthInterval, evHealth)
		return
	}

	metrics.PlaybackOpens.WithLabelValues("success").Inc()
	o.transition(StatePlaying)
	o.schedule(o.cfg.HealthInterval, evHealth)
}

func (o *Orchestrator) onHealth() {
	if o.state != StatePlaying && o.state != StateAwaitingRelay {
		return
	}
	if o.now().Sub(o.spawnedAt) < o.cfg.GraceDelay || (o.state == StateAwaitingRelay && o.rh != nil && !o.playbackOpened) {
		metrics.HealthChecks.WithLabelValues("grace").Inc()
		o.schedule(o.cfg.HealthInterval, evHealth)
		return
	}

	reason := o.unhealthyReason()
	if reason == "" {
		metrics.HealthChecks.WithLabelValues("healthy").Inc()
		o.schedule(o.cfg.HealthInterval, evHealth)
		return
	}

	metrics.HealthChecks.WithLabelValues("unhealthy").Inc()
	if !o.restartEnabled {
		o.logger.Warn().Str("reason", reason).Msg("session unhealthy, restart disabled")
		o.updateSession(func(s *Session) { s.LastError = reason })
		o.schedule(o.cfg.HealthInterval, evHealth)
		return
	}
	o.restart(reason)
}

// unhealthyReason returns why the session is not progressing, or "".
func (o *Orchestrator) unhealthyReason() string {
	if o.rh == nil {
		return "relay not spawned"
	}
	if !o.rh.Running() {
		return "relay not running"
	}
	if st := o.sink.State(); st != playback.StatePlaying {
		return "playback " + st.String()
	}
	if o.rh.Progress().Stalled(o.now(), o.cfg.RelayStallTimeout) {
		return "relay output stalled"
	}
	return ""
}

// restart tears down playback and relay and spawns a fresh relay once the
// old one is confirmed stopped. The camera is not contacted.
func (o *Orchestrator) restart(reason string) {
	o.transition(StateUnhealthy)
	o.invalidate()
	metrics.SessionRestarts.Inc()
	o.updateSession(func(s *Session) {
		s.Restarts++
		s.LastError = reason
	})
	o.logger.Warn().Str("reason", reason).Msg("session unhealthy, restarting relay chain")

	if err := o.sink.Stop(); err != nil {
		o.logger.Warn().Err(err).Msg("playback stop failed")
	}
	o.playbackOpened = false

	if o.rh != nil {
		h := o.rh
		o.rh = nil
		o.stopRelay(h)
		return
	}
	if o.relayStopping {
		return
	}
	o.transition(StateAwaitingRelay)
	o.spawnRelay()
}

func (o *Orchestrator) onStop() error {
	if o.state == StateStopping || (o.state == StateIdle && o.rh == nil) {
		return nil
	}
	o.invalidate()
	o.transition(StateStopping)
	o.cameraStopPending = true
	o.spawnPending = false

	if o.cameraStarting {
		o.logger.Debug().Msg("camera start in flight, deferring camera stop")
		o.stopDeferred = true
		return nil
	}
	o.stopCamera()
	return nil
}

// stopCamera submits Camera.Stop for the current stop request.
func (o *Orchestrator) stopCamera() {
	gen := o.gen
	err := o.pool.Submit(func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CameraTimeout)
		defer cancel()
		err := o.camera.Stop(cctx)
		o.post(event{kind: evCameraStopped, gen: gen, err: err})
	})
	if err != nil {
		o.onCameraStopped(event{gen: gen, err: fmt.Errorf("submit camera stop: %w", err)})
	}
}

func (o *Orchestrator) onCameraStopped(ev event) {
	if ev.gen != o.gen || o.state != StateStopping {
		return
	}
	o.cameraStopPending = false
	if ev.err != nil {
		o.logger.Warn().Err(ev.err).Msg("camera stop failed, keeping relay")
		o.recordError(ev.err)
		o.transition(StateIdle)
		return
	}

	if err := o.sink.Stop(); err != nil {
		o.logger.Warn().Err(err).Msg("playback stop failed")
	}
	o.playbackOpened = false
	if o.rh != nil || !o.relayStopping {
		h := o.rh
		o.rh = nil
		o.stopRelay(h)
	}
	o.maybeFinishStop()
}

func (o *Orchestrator) maybeFinishStop() {
	if o.state == StateStopping && !o.cameraStopPending && !o.relayStopping && o.rh == nil {
		o.transition(StateIdle)
	}
}

func (o *Orchestrator) onSetRestart(enabled bool) {
	if o.restartEnabled == enabled {
		return
	}
	o.restartEnabled = enabled
	o.updateSession(func(s *Session) { s.RestartEnabled = enabled })
	o.logger.Info().Bool("restart_enabled", enabled).Msg("restart policy changed")
}

func (o *Orchestrator) onSinkChanged() {
	st := o.sink.State()
	o.updateSession(func(s *Session) {
		s.PlaybackState = st.String()
		s.Buffering = st.Buffering()
	})
}
