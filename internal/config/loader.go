// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configuration file path, empty for environment-only setups.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults -> strict file parse -> environment -> validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing. Unknown fields
// fail the load to prevent silent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	p := EnvPrefix

	cfg.Log.Level = l.envString(p+"LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Console = l.envBool(p+"LOG_CONSOLE", cfg.Log.Console)

	cfg.Camera.BaseURL = l.envString(p+"CAMERA_BASE_URL", cfg.Camera.BaseURL)
	cfg.Camera.Serial = l.envString(p+"CAMERA_SERIAL", cfg.Camera.Serial)
	cfg.Camera.Timeout = l.envDuration(p+"CAMERA_TIMEOUT", cfg.Camera.Timeout)
	cfg.Camera.RateLimit = l.envFloat(p+"CAMERA_RATE_LIMIT", cfg.Camera.RateLimit)
	cfg.Camera.StopShutterBeforeStart = l.envBool(p+"CAMERA_STOP_SHUTTER", cfg.Camera.StopShutterBeforeStart)

	cfg.Relay.BinPath = l.envString(p+"RELAY_BIN", cfg.Relay.BinPath)
	cfg.Relay.InputURI = l.envString(p+"RELAY_INPUT_URI", cfg.Relay.InputURI)
	cfg.Relay.OutputURI = l.envString(p+"RELAY_OUTPUT_URI", cfg.Relay.OutputURI)
	cfg.Relay.KillTimeout = l.envDuration(p+"RELAY_KILL_TIMEOUT", cfg.Relay.KillTimeout)

	cfg.Playback.Backend = l.envString(p+"PLAYBACK_BACKEND", cfg.Playback.Backend)
	cfg.Playback.SourceURI = l.envString(p+"PLAYBACK_SOURCE_URI", cfg.Playback.SourceURI)
	cfg.Playback.ForwardAddr = l.envString(p+"PLAYBACK_FORWARD_ADDR", cfg.Playback.ForwardAddr)
	cfg.Playback.Exec.BinPath = l.envString(p+"PLAYBACK_BIN", cfg.Playback.Exec.BinPath)
	cfg.Playback.Tuning.NetworkCachingMs = l.envInt(p+"PLAYBACK_NETWORK_CACHING_MS", cfg.Playback.Tuning.NetworkCachingMs)
	cfg.Playback.Tuning.HWDecode = l.envBool(p+"PLAYBACK_HW_DECODE", cfg.Playback.Tuning.HWDecode)

	cfg.Session.AutoStart = l.envBool(p+"SESSION_AUTOSTART", cfg.Session.AutoStart)
	cfg.Session.RestartEnabled = l.envBool(p+"SESSION_RESTART_ENABLED", cfg.Session.RestartEnabled)
	cfg.Session.HealthInterval = l.envDuration(p+"SESSION_HEALTH_INTERVAL", cfg.Session.HealthInterval)
	cfg.Session.ReadinessProbe = l.envBool(p+"SESSION_READINESS_PROBE", cfg.Session.ReadinessProbe)
	cfg.Session.RelayStallTimeout = l.envDuration(p+"SESSION_RELAY_STALL_TIMEOUT", cfg.Session.RelayStallTimeout)

	cfg.API.Listen = l.envString(p+"API_LISTEN", cfg.API.Listen)
	cfg.API.RateLimit = l.envInt(p+"API_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Metrics.Enabled = l.envBool(p+"METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Listen = l.envString(p+"METRICS_LISTEN", cfg.Metrics.Listen)

	cfg.Telemetry.Enabled = l.envBool(p+"TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(p+"TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(p+"TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(p+"TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
