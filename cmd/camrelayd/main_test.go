// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camrelay/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "commit:")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "camrelay.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := config.NewLoader(path, "test").Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default().Relay, loaded.Relay)

	_, err = execute(t, "config", "init", path)
	require.ErrorIs(t, err, errConfigExists)

	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)
}

func TestConfigInitUsesConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-flag.yaml")
	_, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("session:\n  autoStart: true\n"), 0600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("session:\n  autoStart: true\n  bogus: 1\n"), 0600))

	out, err := execute(t, "--config", good, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	_, err = execute(t, "--config", bad, "config", "validate")
	require.ErrorIs(t, err, config.ErrUnknownConfigField)

	_, err = execute(t, "config", "validate")
	require.Error(t, err)
}

func TestConfigDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  listen: \":9999\"\n"), 0600))

	out, err := execute(t, "--config", path, "config", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "listen:")
	assert.Contains(t, out, "9999")

	out, err = execute(t, "--config", path, "config", "dump", "--format", "json")
	require.NoError(t, err)
	var cfg config.AppConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, ":9999", cfg.API.Listen)

	_, err = execute(t, "--config", path, "config", "dump", "--format", "toml")
	require.Error(t, err)
}

func TestHealthcheckCmd(t *testing.T) {
	var notReady atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" && notReady.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	out, err := execute(t, "healthcheck", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "healthcheck successful (ready)")

	notReady.Store(true)
	_, err = execute(t, "healthcheck", "--addr", srv.URL)
	require.Error(t, err)

	_, err = execute(t, "healthcheck", "--addr", srv.URL, "--mode", "live")
	require.NoError(t, err)
}
