// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"regexp"

	"github.com/ManuGH/camrelay/internal/camera"
	"github.com/ManuGH/camrelay/internal/playback"
	"github.com/ManuGH/camrelay/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(cfg.Log.Level); err != nil {
		v.AddError("log.level", "must be one of debug, info, warn, error", cfg.Log.Level)
	}

	// Camera
	if cfg.Camera.Serial != "" {
		v.Custom("camera.serial", cfg.Camera.Serial, func(val interface{}) error {
			_, err := camera.WiredHost(val.(string))
			return err
		})
	} else {
		v.URL("camera.baseUrl", cfg.Camera.BaseURL, []string{"http", "https"})
	}
	v.PositiveDuration("camera.timeout", cfg.Camera.Timeout)
	v.NonNegativeDuration("camera.connectTimeout", cfg.Camera.ConnectTimeout)
	v.NonNegativeDuration("camera.shutterSettle", cfg.Camera.ShutterSettle)
	v.NonNegative("camera.breakerThreshold", cfg.Camera.BreakerThreshold)
	v.NonNegative("camera.wiredSetupAttempts", cfg.Camera.WiredSetupAttempts)
	if cfg.Camera.RateLimit < 0 {
		v.AddError("camera.rateLimit", "cannot be negative", cfg.Camera.RateLimit)
	}

	// Relay
	v.NotEmpty("relay.binPath", cfg.Relay.BinPath)
	v.UDPURI("relay.inputUri", cfg.Relay.InputURI)
	v.UDPURI("relay.outputUri", cfg.Relay.OutputURI)
	v.Positive("relay.probeSize", cfg.Relay.ProbeSize)
	v.Range("relay.packetSize", cfg.Relay.PacketSize, 188, 65507)
	v.PositiveDuration("relay.killTimeout", cfg.Relay.KillTimeout)

	// Playback
	v.OneOf("playback.backend", cfg.Playback.Backend, []string{playback.BackendUDP, playback.BackendExec})
	if cfg.Playback.SourceURI != "" {
		v.UDPURI("playback.sourceUri", cfg.Playback.SourceURI)
	}
	v.NonNegative("playback.tuning.networkCachingMs", cfg.Playback.Tuning.NetworkCachingMs)
	v.NonNegative("playback.tuning.minBufferMs", cfg.Playback.Tuning.MinBufferMs)
	v.NonNegative("playback.tuning.maxBufferMs", cfg.Playback.Tuning.MaxBufferMs)
	if cfg.Playback.Tuning.MaxBufferMs > 0 && cfg.Playback.Tuning.MaxBufferMs < cfg.Playback.Tuning.MinBufferMs {
		v.AddError("playback.tuning.maxBufferMs", "must not be below minBufferMs", cfg.Playback.Tuning.MaxBufferMs)
	}
	if cfg.Playback.Backend == playback.BackendExec {
		v.NotEmpty("playback.exec.binPath", cfg.Playback.Exec.BinPath)
		if cfg.Playback.Exec.StatusPattern != "" {
			v.Custom("playback.exec.statusPattern", cfg.Playback.Exec.StatusPattern, func(val interface{}) error {
				_, err := regexp.Compile(val.(string))
				return err
			})
		}
	}

	// Session
	v.NonNegativeDuration("session.spawnDelay", cfg.Session.SpawnDelay)
	v.NonNegativeDuration("session.graceDelay", cfg.Session.GraceDelay)
	v.PositiveDuration("session.retryBackoff", cfg.Session.RetryBackoff)
	v.PositiveDuration("session.healthInterval", cfg.Session.HealthInterval)
	v.NonNegativeDuration("session.relayStallTimeout", cfg.Session.RelayStallTimeout)
	v.Range("session.workers", cfg.Session.Workers, 1, 16)

	// Surfaces
	v.NotEmpty("api.listen", cfg.API.Listen)
	v.ListenAddr("api.listen", cfg.API.Listen)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)
	if cfg.Metrics.Enabled {
		v.ListenAddr("metrics.listen", cfg.Metrics.Listen)
		if cfg.Metrics.Listen == cfg.API.Listen {
			v.AddError("metrics.listen", fmt.Sprintf("must differ from api.listen (%s)", cfg.API.Listen), cfg.Metrics.Listen)
		}
	}
	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "must be between 0.0 and 1.0", cfg.Telemetry.SamplingRate)
		}
	}

	return v.Err()
}
