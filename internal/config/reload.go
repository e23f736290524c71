// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camrelay/internal/log"
)

const reloadDebounce = 500 * time.Millisecond

// ConfigHolder holds configuration with atomic reloading capability.
// Reloads come from the file watcher, SIGHUP or an explicit Reload call.
type ConfigHolder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	logger  zerolog.Logger

	watcher     *fsnotify.Watcher
	watchDone   chan struct{}
	debounceDur time.Duration

	reloadMu        sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewConfigHolder creates a new configuration holder with initial config.
func NewConfigHolder(initial AppConfig, loader *Loader) *ConfigHolder {
	return &ConfigHolder{
		current:     initial,
		loader:      loader,
		logger:      log.WithComponent("config"),
		debounceDur: reloadDebounce,
	}
}

// Get returns the current configuration (thread-safe read).
func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates the configuration again. On failure the old
// configuration stays in place.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the config file for changes until ctx is done.
// Without a config file this is a no-op.
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(log.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.watcher = watcher
	h.watchDone = make(chan struct{})

	h.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str("path", path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, filepath.Clean(path))
	return nil
}

func (h *ConfigHolder) watchLoop(ctx context.Context, path string) {
	defer close(h.watchDone)
	defer func() { _ = h.watcher.Close() }()

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case <-fire:
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str(log.FieldEvent, "config.auto_reload_failed").
					Msg("automatic config reload failed")
			}

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str(log.FieldEvent, "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(h.debounceDur, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Wait blocks until the watcher started by StartWatcher has exited.
func (h *ConfigHolder) Wait() {
	if h.watchDone != nil {
		<-h.watchDone
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// The caller is responsible for closing the channel.
func (h *ConfigHolder) RegisterListener(ch chan<- AppConfig) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *ConfigHolder) notifyListeners(newCfg AppConfig) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str(log.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *ConfigHolder) logChanges(old, newCfg AppConfig) {
	if old.Session.RestartEnabled != newCfg.Session.RestartEnabled {
		h.logger.Info().
			Bool("old", old.Session.RestartEnabled).
			Bool("new", newCfg.Session.RestartEnabled).
			Msg("config changed: session.restartEnabled")
	}
	if old.Log.Level != newCfg.Log.Level {
		h.logger.Info().
			Str("old", old.Log.Level).
			Str("new", newCfg.Log.Level).
			Msg("config changed: log.level")
	}
	for _, field := range RestartRequired(old, newCfg) {
		h.logger.Warn().
			Str("field", field).
			Str(log.FieldEvent, "config.restart_required").
			Msg("config change takes effect after restart")
	}
}

// RestartRequired lists the changed sections that are only read at startup.
func RestartRequired(old, newCfg AppConfig) []string {
	var fields []string
	if old.Camera != newCfg.Camera {
		fields = append(fields, "camera")
	}
	if old.Relay != newCfg.Relay {
		fields = append(fields, "relay")
	}
	if !playbackEqual(old.Playback, newCfg.Playback) {
		fields = append(fields, "playback")
	}
	so, sn := old.Session, newCfg.Session
	so.RestartEnabled, sn.RestartEnabled = false, false
	if so != sn {
		fields = append(fields, "session")
	}
	if old.API != newCfg.API {
		fields = append(fields, "api")
	}
	if old.Metrics != newCfg.Metrics {
		fields = append(fields, "metrics")
	}
	if old.Telemetry != newCfg.Telemetry {
		fields = append(fields, "telemetry")
	}
	return fields
}

func playbackEqual(a, b PlaybackConfig) bool {
	if a.Backend != b.Backend || a.SourceURI != b.SourceURI || a.ForwardAddr != b.ForwardAddr || a.Tuning != b.Tuning {
		return false
	}
	ae, be := a.Exec, b.Exec
	if ae.BinPath != be.BinPath || ae.StatusPattern != be.StatusPattern || ae.KillTimeout != be.KillTimeout {
		return false
	}
	if len(ae.ExtraArgs) != len(be.ExtraArgs) {
		return false
	}
	for i := range ae.ExtraArgs {
		if ae.ExtraArgs[i] != be.ExtraArgs[i] {
			return false
		}
	}
	return true
}
