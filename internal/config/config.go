// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates and hot-reloads the camrelay daemon
// configuration.
package config

import (
	"time"

	"github.com/ManuGH/camrelay/internal/camera"
	"github.com/ManuGH/camrelay/internal/playback"
	"github.com/ManuGH/camrelay/internal/relay"
)

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Log       LogConfig       `yaml:"log"`
	Camera    CameraConfig    `yaml:"camera"`
	Relay     RelayConfig     `yaml:"relay"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Session   SessionConfig   `yaml:"session"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// CameraConfig configures the camera control client.
type CameraConfig struct {
	BaseURL string `yaml:"baseUrl"`
	// Serial selects the wired USB connection. When set, BaseURL is derived
	// from it and requests are pinned to the matching local interface.
	Serial             string        `yaml:"serial"`
	WiredSetupAttempts int           `yaml:"wiredSetupAttempts"`
	WiredSetupDelay    time.Duration `yaml:"wiredSetupDelay"`

	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	UserAgent      string        `yaml:"userAgent"`

	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`

	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`

	StopShutterBeforeStart bool          `yaml:"stopShutterBeforeStart"`
	ShutterSettle          time.Duration `yaml:"shutterSettle"`
}

// RelayConfig configures the ffmpeg relay.
type RelayConfig struct {
	BinPath     string        `yaml:"binPath"`
	InputURI    string        `yaml:"inputUri"`
	OutputURI   string        `yaml:"outputUri"`
	ProbeSize   int           `yaml:"probeSize"`
	PacketSize  int           `yaml:"packetSize"`
	KillTimeout time.Duration `yaml:"killTimeout"`
	StderrLines int           `yaml:"stderrLines"`
}

// PlaybackConfig selects and tunes the playback sink.
type PlaybackConfig struct {
	Backend string `yaml:"backend"`
	// SourceURI overrides the player URI derived from relay.outputUri.
	SourceURI string `yaml:"sourceUri"`
	// ForwardAddr receives a copy of every datagram read by the udp backend.
	ForwardAddr string              `yaml:"forwardAddr"`
	Tuning      playback.Tuning     `yaml:"tuning"`
	Exec        playback.ExecConfig `yaml:"exec"`
}

// SessionConfig holds the orchestrator timing policy.
type SessionConfig struct {
	AutoStart         bool          `yaml:"autoStart"`
	RestartEnabled    bool          `yaml:"restartEnabled"`
	SpawnDelay        time.Duration `yaml:"spawnDelay"`
	GraceDelay        time.Duration `yaml:"graceDelay"`
	RetryBackoff      time.Duration `yaml:"retryBackoff"`
	HealthInterval    time.Duration `yaml:"healthInterval"`
	ReadinessProbe    bool          `yaml:"readinessProbe"`
	RelayStallTimeout time.Duration `yaml:"relayStallTimeout"`
	Workers           int           `yaml:"workers"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
	// RateLimit is the per-client request budget per minute. Zero disables it.
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Default returns the configuration used when neither file nor environment
// override a value.
func Default() AppConfig {
	return AppConfig{
		Log: LogConfig{Level: "info"},
		Camera: CameraConfig{
			BaseURL:            camera.DefaultBaseURL,
			WiredSetupAttempts: 10,
			WiredSetupDelay:    time.Second,
			Timeout:            10 * time.Second,
			ConnectTimeout:     10 * time.Second,
			UserAgent:          "camrelay",
			RateLimit:          2,
			RateBurst:          2,
			BreakerThreshold:   5,
			BreakerReset:       30 * time.Second,
			ShutterSettle:      2 * time.Second,
		},
		Relay: RelayConfig{
			BinPath:     "ffmpeg",
			InputURI:    relay.DefaultInputURI,
			OutputURI:   relay.DefaultOutputURI,
			ProbeSize:   relay.DefaultProbeSize,
			PacketSize:  relay.DefaultPacketSize,
			KillTimeout: 5 * time.Second,
			StderrLines: 64,
		},
		Playback: PlaybackConfig{
			Backend: playback.BackendUDP,
			Tuning:  playback.DefaultTuning(),
			Exec: playback.ExecConfig{
				BinPath:       "ffplay",
				StatusPattern: playback.DefaultStatusPattern,
				KillTimeout:   2 * time.Second,
			},
		},
		Session: SessionConfig{
			RestartEnabled: true,
			SpawnDelay:     time.Second,
			GraceDelay:     time.Second,
			RetryBackoff:   time.Second,
			HealthInterval: 10 * time.Second,
			Workers:        2,
		},
		API: APIConfig{
			Listen:          ":8088",
			RateLimit:       120,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}

// PlayerURI returns the URI handed to the playback sink.
func (c AppConfig) PlayerURI() string {
	if c.Playback.SourceURI != "" {
		return c.Playback.SourceURI
	}
	if uri, err := relay.PlayerURI(c.Relay.OutputURI); err == nil {
		return uri
	}
	return relay.DefaultPlayerURI
}

// CameraBaseURL returns the control endpoint, derived from the serial for
// wired connections.
func (c AppConfig) CameraBaseURL() string {
	if c.Camera.Serial != "" {
		if u, err := camera.WiredBaseURL(c.Camera.Serial); err == nil {
			return u
		}
	}
	return c.Camera.BaseURL
}
