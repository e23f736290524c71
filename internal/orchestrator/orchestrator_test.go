// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/camrelay/internal/health"
	"github.com/ManuGH/camrelay/internal/playback"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 3 * time.Second

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.SpawnDelay = 5 * time.Millisecond
	cfg.GraceDelay = 20 * time.Millisecond
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.HealthInterval = 30 * time.Millisecond
	cfg.CameraTimeout = time.Second
	cfg.RelayStopTimeout = time.Second
	return cfg
}

type harness struct {
	o      *Orchestrator
	camera *fakeCamera
	relay  *fakeRelay
	sink   *fakeSink
	log    *transitionLog
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		camera: &fakeCamera{},
		relay:  &fakeRelay{},
		sink:   newFakeSink(),
		log:    &transitionLog{},
	}
	o, err := New(cfg, Deps{Camera: h.camera, Relay: h.relay, Sink: h.sink})
	require.NoError(t, err)
	o.onTransition = h.log.record
	h.o = o
	t.Cleanup(func() { _ = o.Release() })
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.o.State() == want }, waitFor, time.Millisecond,
		"state %s never reached, last %s", want, h.o.State())
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Camera: &fakeCamera{}})
	assert.Error(t, err)
}

func TestNew_DerivesPlayerURI(t *testing.T) {
	cfg := fastConfig()
	cfg.OutputURI = "udp://localhost:9555"
	cfg.PlayerURI = ""
	h := newHarness(t, cfg)

	s := h.o.Session()
	assert.Equal(t, "udp://@localhost:9555", s.PlayerURI)
	assert.Equal(t, StateIdle, s.State)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Buffering)
}

func TestCameraFailuresThenSuccess(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.camera.startErrs = []error{errCameraDown, errCameraDown}

	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)

	assert.Equal(t, int32(3), h.camera.startCalls.Load())
	assert.Equal(t, int32(1), h.relay.spawnCalls.Load())
	assert.Equal(t, 1, h.log.count(StateAwaitingRelay))
	assert.Equal(t, []string{h.o.cfg.PlayerURI}, h.sink.opens())
	assert.Equal(t, playback.StatePlaying, h.sink.State())

	// No further camera start once the camera streams.
	time.Sleep(5 * h.o.cfg.HealthInterval)
	assert.Equal(t, int32(3), h.camera.startCalls.Load())
	assert.Equal(t, 1, h.log.count(StateAwaitingRelay))

	s := h.o.Session()
	assert.Equal(t, 3, s.CameraAttempts)
	assert.Equal(t, "relay-1", s.RelayHandleID)
	assert.False(t, s.Buffering)
	assert.Equal(t, "playing", s.PlaybackState)
}

func TestCameraFailureWithRestartDisabled(t *testing.T) {
	cfg := fastConfig()
	cfg.RestartEnabled = false
	h := newHarness(t, cfg)
	h.camera.startErrs = []error{errCameraDown}

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.camera.startCalls.Load() == 1 && h.o.State() == StateIdle },
		waitFor, time.Millisecond)

	time.Sleep(10 * cfg.RetryBackoff)
	assert.Equal(t, int32(1), h.camera.startCalls.Load())
	assert.Zero(t, h.relay.spawnCalls.Load())
	assert.Equal(t, errCameraDown.Error(), h.o.Session().LastError)
}

func TestDisablingRestartStopsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryBackoff = 20 * time.Millisecond
	h := newHarness(t, cfg)
	h.camera.startErrs = []error{errCameraDown, errCameraDown, errCameraDown, errCameraDown, errCameraDown}

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.camera.startCalls.Load() >= 1 }, waitFor, time.Millisecond)
	require.NoError(t, h.o.SetRestartEnabled(false))

	h.waitState(t, StateIdle)
	calls := h.camera.startCalls.Load()
	time.Sleep(5 * cfg.RetryBackoff)
	assert.Equal(t, calls, h.camera.startCalls.Load())
	assert.False(t, h.o.Session().RestartEnabled)
}

func TestStartWhenNotIdle(t *testing.T) {
	h := newHarness(t, fastConfig())
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	assert.ErrorIs(t, h.o.Start(), ErrNotIdle)
}

func TestRelayExitRestartsWithoutCamera(t *testing.T) {
	h := newHarness(t, fastConfig())
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)

	first := h.relay.last()
	require.NotNil(t, first)
	first.exit()

	require.Eventually(t, func() bool {
		return h.relay.spawnCalls.Load() == 2 && h.o.State() == StatePlaying
	}, waitFor, time.Millisecond)

	assert.Equal(t, int32(1), h.camera.startCalls.Load(), "camera start is not re-invoked")
	uri := h.o.cfg.PlayerURI
	assert.Equal(t, []string{uri, uri}, h.sink.opens())
	assert.Equal(t, 1, h.log.count(StateUnhealthy))
	assert.Equal(t, 1, h.o.Session().Restarts)
	assert.LessOrEqual(t, h.relay.peakActive(), 1)
	assert.True(t, first.stopped.Load(), "old handle stopped before respawn")
}

func TestUnhealthyWithRestartDisabledKeepsSession(t *testing.T) {
	cfg := fastConfig()
	h := newHarness(t, cfg)
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	require.NoError(t, h.o.SetRestartEnabled(false))

	h.relay.last().exit()
	require.Eventually(t, func() bool { return h.o.Session().LastError == "relay not running" }, waitFor, time.Millisecond)

	time.Sleep(3 * cfg.HealthInterval)
	assert.Equal(t, int32(1), h.relay.spawnCalls.Load())
	assert.Equal(t, StatePlaying, h.o.State())
}

func TestHealthCheckDuringGraceDoesNotRestart(t *testing.T) {
	cfg := fastConfig()
	cfg.GraceDelay = 300 * time.Millisecond
	cfg.HealthInterval = 10 * time.Millisecond
	cfg.ReadinessProbe = true
	h := newHarness(t, cfg)
	h.relay.readyNow = true

	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)

	// Playback drops while the grace period is still running.
	h.sink.set(playback.StateBuffering)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), h.relay.spawnCalls.Load())
	assert.Zero(t, h.log.count(StateUnhealthy))

	// Once the grace period is over the same condition restarts the relay.
	require.Eventually(t, func() bool { return h.log.count(StateUnhealthy) >= 1 }, waitFor, time.Millisecond)
}

func TestReadinessProbeOpensBeforeGrace(t *testing.T) {
	cfg := fastConfig()
	cfg.GraceDelay = time.Hour
	cfg.ReadinessProbe = true
	h := newHarness(t, cfg)
	h.relay.readyNow = true

	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	assert.Len(t, h.sink.opens(), 1)
}

func TestPlaybackNotOpenedWhileRelayDown(t *testing.T) {
	cfg := fastConfig()
	cfg.HealthInterval = time.Hour
	h := newHarness(t, cfg)
	h.relay.spawnErrs = []error{errors.New("exec: ffmpeg not found")}

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.relay.spawnCalls.Load() == 1 }, waitFor, time.Millisecond)

	time.Sleep(5 * cfg.GraceDelay)
	assert.Empty(t, h.sink.opens(), "sink never sees a source without a relay")
	assert.Equal(t, StateAwaitingRelay, h.o.State())
}

func TestSpawnFailureRecoversThroughHealthCheck(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.relay.spawnErrs = []error{errors.New("exec: ffmpeg not found")}

	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	assert.Equal(t, int32(2), h.relay.spawnCalls.Load())
	assert.Equal(t, int32(1), h.camera.startCalls.Load())
}

func TestPlaybackOpenFailureRetriedByHealthCheck(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.sink.mu.Lock()
	h.sink.openErr = errors.New("bind: address in use")
	h.sink.mu.Unlock()

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return len(h.sink.opens()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, StateAwaitingRelay, h.o.State())

	h.sink.mu.Lock()
	h.sink.openErr = nil
	h.sink.mu.Unlock()

	h.waitState(t, StatePlaying)
	assert.GreaterOrEqual(t, h.relay.spawnCalls.Load(), int32(2))
	assert.LessOrEqual(t, h.relay.peakActive(), 1)
}

func TestStopDuringAwaitingRelay(t *testing.T) {
	cfg := fastConfig()
	cfg.GraceDelay = time.Hour
	h := newHarness(t, cfg)

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.relay.spawnCalls.Load() == 1 }, waitFor, time.Millisecond)
	require.Equal(t, StateAwaitingRelay, h.o.State())

	require.NoError(t, h.o.Stop())
	h.waitState(t, StateIdle)

	assert.Equal(t, int32(1), h.camera.stopCalls.Load())
	assert.Equal(t, int32(1), h.relay.stopCalls.Load())
	assert.Zero(t, h.relay.activeCount())
	assert.Empty(t, h.sink.opens())
}

func TestStopBeforeSpawnStillStopsRelay(t *testing.T) {
	cfg := fastConfig()
	cfg.SpawnDelay = time.Hour
	h := newHarness(t, cfg)

	require.NoError(t, h.o.Start())
	h.waitState(t, StateAwaitingRelay)
	require.NoError(t, h.o.Stop())
	h.waitState(t, StateIdle)

	assert.Equal(t, int32(1), h.relay.stopCalls.Load())
	assert.Equal(t, int32(1), h.relay.nilStops.Load())
	assert.Zero(t, h.relay.spawnCalls.Load(), "pending spawn cancelled")
}

func TestStopFromPlaying(t *testing.T) {
	h := newHarness(t, fastConfig())
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)

	require.NoError(t, h.o.Stop())
	h.waitState(t, StateIdle)

	assert.Zero(t, h.relay.activeCount())
	assert.Equal(t, playback.StateStopped, h.sink.State())

	// Stopping again from idle is a no-op.
	require.NoError(t, h.o.Stop())
	assert.Equal(t, int32(1), h.camera.stopCalls.Load())

	// A stopped session can be started again.
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	assert.Equal(t, int32(2), h.relay.spawnCalls.Load())
}

func TestCameraStopFailureKeepsRelay(t *testing.T) {
	h := newHarness(t, fastConfig())
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)

	h.camera.mu.Lock()
	h.camera.stopErr = errCameraDown
	h.camera.mu.Unlock()

	require.NoError(t, h.o.Stop())
	h.waitState(t, StateIdle)
	assert.Equal(t, 1, h.relay.activeCount())
	assert.Zero(t, h.relay.stopCalls.Load())

	// The next start replaces the kept relay instead of running two.
	h.camera.mu.Lock()
	h.camera.stopErr = nil
	h.camera.mu.Unlock()
	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool {
		return h.relay.spawnCalls.Load() == 2 && h.o.State() == StatePlaying
	}, waitFor, time.Millisecond)
	assert.Equal(t, 1, h.relay.activeCount())
	assert.LessOrEqual(t, h.relay.peakActive(), 1)
}

func TestAtMostOneRelayUnderChurn(t *testing.T) {
	cfg := fastConfig()
	cfg.SpawnDelay = time.Millisecond
	cfg.GraceDelay = 2 * time.Millisecond
	cfg.HealthInterval = 3 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	h := newHarness(t, cfg)

	rng := rand.New(rand.NewSource(1))
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		switch rng.Intn(4) {
		case 0:
			_ = h.o.Start()
		case 1:
			_ = h.o.Stop()
		case 2:
			if last := h.relay.last(); last != nil {
				last.exit()
			}
		case 3:
			_ = h.o.SetRestartEnabled(rng.Intn(2) == 0)
		}
		time.Sleep(time.Duration(rng.Intn(3000)) * time.Microsecond)
	}

	assert.LessOrEqual(t, h.relay.peakActive(), 1)
	require.NoError(t, h.o.Release())
	assert.Zero(t, h.relay.activeCount(), "release leaves no relay behind")
}

func TestReleaseIdempotent(t *testing.T) {
	h := newHarness(t, fastConfig())
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)

	require.NoError(t, h.o.Release())
	stops := h.relay.stopCalls.Load()
	sinkStops := h.sink.stopCalls.Load()

	require.NoError(t, h.o.Release())
	assert.Equal(t, stops, h.relay.stopCalls.Load())
	assert.Equal(t, sinkStops, h.sink.stopCalls.Load())
	assert.Equal(t, int32(1), h.sink.releaseCalls.Load())
	assert.Equal(t, StateReleased, h.o.State())
	assert.Zero(t, h.relay.activeCount())

	assert.ErrorIs(t, h.o.Start(), ErrReleased)
	assert.ErrorIs(t, h.o.Stop(), ErrReleased)
	assert.ErrorIs(t, h.o.SetRestartEnabled(true), ErrReleased)
}

func TestReleaseMidTransition(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryBackoff = time.Millisecond
	h := newHarness(t, cfg)
	h.camera.startErrs = make([]error, 1000)
	for i := range h.camera.startErrs {
		h.camera.startErrs[i] = errCameraDown
	}

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.camera.startCalls.Load() > 3 }, waitFor, time.Millisecond)
	require.NoError(t, h.o.Release())

	calls := h.camera.startCalls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, h.camera.startCalls.Load(), "no timer fires after release")
}

func TestSubscribeBuffering(t *testing.T) {
	cfg := fastConfig()
	cfg.HealthInterval = time.Hour
	h := newHarness(t, cfg)

	var mu sync.Mutex
	var got []bool
	unsubscribe := h.o.Subscribe(func(buffering bool) {
		mu.Lock()
		got = append(got, buffering)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && !got[len(got)-1]
	}, waitFor, time.Millisecond)

	h.sink.set(playback.StateBuffering)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got[len(got)-1]
	}, waitFor, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1], got[i], "duplicate notification at %d", i)
	}
}

func TestSubscribeSeesShortBufferingBlip(t *testing.T) {
	cfg := fastConfig()
	cfg.HealthInterval = time.Hour
	h := newHarness(t, cfg)

	var mu sync.Mutex
	var got []bool
	defer h.o.Subscribe(func(buffering bool) {
		mu.Lock()
		got = append(got, buffering)
		mu.Unlock()
	})()

	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, time.Millisecond)

	h.sink.set(playback.StateBuffering)
	h.sink.set(playback.StatePlaying)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, waitFor, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true, false}, got)
}

func TestReleaseFromSubscribeCallback(t *testing.T) {
	h := newHarness(t, fastConfig())

	released := make(chan struct{})
	var once sync.Once
	h.o.Subscribe(func(buffering bool) {
		if buffering {
			return
		}
		once.Do(func() {
			_ = h.o.Release()
			close(released)
		})
	})

	require.NoError(t, h.o.Start())
	select {
	case <-released:
	case <-time.After(waitFor):
		t.Fatalf("release from subscriber did not return, state %s", h.o.State())
	}
	assert.Equal(t, StateReleased, h.o.State())
	assert.Zero(t, h.relay.activeCount())
	assert.Equal(t, int32(1), h.sink.releaseCalls.Load())
}

func TestReleaseWhileSubscriberBlocked(t *testing.T) {
	h := newHarness(t, fastConfig())

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var calls atomic.Int32
	var once sync.Once
	h.o.Subscribe(func(bool) {
		calls.Add(1)
		once.Do(func() {
			close(entered)
			<-unblock
		})
	})
	defer close(unblock)

	require.NoError(t, h.o.Start())
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("subscriber never called")
	}

	done := make(chan struct{})
	go func() {
		_ = h.o.Release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("release waited for a blocked subscriber")
	}
	assert.Equal(t, StateReleased, h.o.State())
	assert.Equal(t, int32(1), calls.Load(), "no callback starts after release")
}

func TestStopWaitsForInFlightCameraStart(t *testing.T) {
	h := newHarness(t, fastConfig())
	gate := make(chan struct{})
	h.camera.mu.Lock()
	h.camera.startGate = gate
	h.camera.mu.Unlock()

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.camera.startCalls.Load() == 1 }, waitFor, time.Millisecond)

	require.NoError(t, h.o.Stop())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateStopping, h.o.State(), "stop held until the start result arrives")
	assert.Zero(t, h.camera.stopCalls.Load())

	close(gate)
	h.waitState(t, StateIdle)
	assert.Equal(t, int32(1), h.camera.stopCalls.Load())
	assert.False(t, h.camera.streaming.Load(), "camera left streaming after stop")
	assert.Zero(t, h.relay.spawnCalls.Load())

	// The session can start again once stopped.
	h.camera.mu.Lock()
	h.camera.startGate = nil
	h.camera.mu.Unlock()
	require.NoError(t, h.o.Start())
	h.waitState(t, StatePlaying)
	assert.True(t, h.camera.streaming.Load())
}

func TestStopAfterFailedInFlightCameraStart(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryBackoff = time.Hour
	h := newHarness(t, cfg)
	gate := make(chan struct{})
	h.camera.mu.Lock()
	h.camera.startGate = gate
	h.camera.startErrs = []error{errCameraDown}
	h.camera.mu.Unlock()

	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.camera.startCalls.Load() == 1 }, waitFor, time.Millisecond)
	require.NoError(t, h.o.Stop())
	close(gate)

	h.waitState(t, StateIdle)
	assert.Equal(t, int32(1), h.camera.startCalls.Load(), "no retry after stop")
	assert.Equal(t, int32(1), h.camera.stopCalls.Load())
}

func TestChecker(t *testing.T) {
	h := newHarness(t, fastConfig())
	c := h.o.Checker()
	assert.Equal(t, "session", c.Name())
	assert.Equal(t, health.StatusHealthy, c.Check(context.Background()).Status)

	h.camera.startErrs = []error{errCameraDown, errCameraDown, errCameraDown}
	h.o.cfg.RetryBackoff = time.Hour
	require.NoError(t, h.o.Start())
	require.Eventually(t, func() bool { return h.o.Session().LastError != "" }, waitFor, time.Millisecond)
	assert.Equal(t, health.StatusDegraded, c.Check(context.Background()).Status)

	require.NoError(t, h.o.Release())
	assert.Equal(t, health.StatusUnhealthy, c.Check(context.Background()).Status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateRequestingCamera))
	assert.True(t, canTransition(StateUnhealthy, StateAwaitingRelay))
	assert.True(t, canTransition(StatePlaying, StateReleased))
	assert.False(t, canTransition(StateIdle, StatePlaying))
	assert.False(t, canTransition(StateReleased, StateReleased))
	assert.False(t, canTransition(StatePlaying, StateRequestingCamera))
	assert.True(t, StateReleased.IsTerminal())
}
