// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camrelay/internal/camera"
	"github.com/ManuGH/camrelay/internal/config"
	"github.com/ManuGH/camrelay/internal/orchestrator"
	"github.com/ManuGH/camrelay/internal/playback"
)

func testConfig(t *testing.T, cameraURL string) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Version = "test"
	cfg.Camera.BaseURL = cameraURL
	cfg.Camera.Timeout = time.Second
	cfg.Session.HealthInterval = time.Hour
	cfg.Metrics.Enabled = false
	return cfg
}

func TestBootstrap(t *testing.T) {
	cam := httptest.NewServer(http.NotFoundHandler())
	defer cam.Close()

	rt, err := Bootstrap(context.Background(), testConfig(t, cam.URL+"/gopro/camera"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close(context.Background())) }()

	assert.Equal(t, orchestrator.StateIdle, rt.Orchestrator.State())
	assert.Equal(t, cam.URL+"/gopro/camera", rt.Camera.BaseURL())

	w := httptest.NewRecorder()
	rt.API.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var s orchestrator.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, orchestrator.StateIdle, s.State)
	assert.Equal(t, "udp://@localhost:8555", s.PlayerURI)
	assert.True(t, s.RestartEnabled)
}

func TestBootstrap_ExecBackendRegistersPlayerCheck(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/gopro/camera")
	cfg.Playback.Backend = playback.BackendExec
	cfg.Playback.Exec.BinPath = "camrelay-no-such-player"

	rt, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = rt.Close(context.Background()) }()

	resp := rt.Health.Health(context.Background(), true)
	require.Contains(t, resp.Checks, "player_binary")
	assert.NotEqual(t, "healthy", string(resp.Checks["player_binary"].Status))
	assert.Contains(t, resp.Checks, "session")
	assert.Contains(t, resp.Checks, "relay_binary")
}

func TestBootstrap_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
		is     error
	}{
		{
			name:   "unknown backend",
			mutate: func(c *config.AppConfig) { c.Playback.Backend = "vlc" },
			is:     playback.ErrUnknownBackend,
		},
		{
			name:   "invalid serial",
			mutate: func(c *config.AppConfig) { c.Camera.Serial = "x" },
			is:     ErrWiredSetup,
		},
		{
			name:   "no wired interface",
			mutate: func(c *config.AppConfig) { c.Camera.Serial = "C0000000000999"; c.Camera.WiredSetupAttempts = 1 },
			is:     camera.ErrNoWiredInterface,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://127.0.0.1:1/gopro/camera")
			tt.mutate(&cfg)
			rt, err := Bootstrap(context.Background(), cfg)
			require.Error(t, err)
			assert.Nil(t, rt)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestBootstrap_ForwardAddr(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/gopro/camera")
	cfg.Playback.ForwardAddr = "127.0.0.1:9"

	rt, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, rt.forward)
	require.NoError(t, rt.Close(context.Background()))
}
