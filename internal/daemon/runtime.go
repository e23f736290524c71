// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the camera, relay, playback and session components
// into a running service and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/camrelay/internal/api"
	"github.com/ManuGH/camrelay/internal/camera"
	"github.com/ManuGH/camrelay/internal/config"
	"github.com/ManuGH/camrelay/internal/health"
	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/orchestrator"
	"github.com/ManuGH/camrelay/internal/playback"
	"github.com/ManuGH/camrelay/internal/relay"
	"github.com/ManuGH/camrelay/internal/telemetry"
)

// Runtime holds the components built from one configuration.
type Runtime struct {
	Config       config.AppConfig
	Camera       *camera.Client
	Relay        *relay.Supervisor
	Sink         playback.Sink
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Manager
	API          *api.Server
	Telemetry    *telemetry.Provider

	forward io.Closer
	logger  zerolog.Logger
}

// Bootstrap builds every component but starts no session. Close releases
// whatever was built, also on partial failure.
func Bootstrap(ctx context.Context, cfg config.AppConfig) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg, logger: log.WithComponent("daemon")}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.Telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "camrelay",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	rt.Camera, err = buildCamera(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt.Relay = relay.New(relay.Config{
		BinPath:     cfg.Relay.BinPath,
		KillTimeout: cfg.Relay.KillTimeout,
		ProbeSize:   cfg.Relay.ProbeSize,
		PacketSize:  cfg.Relay.PacketSize,
		StderrLines: cfg.Relay.StderrLines,
	})

	var forward io.WriteCloser
	if cfg.Playback.ForwardAddr != "" {
		var d net.Dialer
		conn, derr := d.DialContext(ctx, "udp", cfg.Playback.ForwardAddr)
		if derr != nil {
			return nil, fmt.Errorf("playback forward %s: %w", cfg.Playback.ForwardAddr, derr)
		}
		forward = conn
		rt.forward = conn
	}
	rt.Sink, err = buildSink(cfg.Playback, forward)
	if err != nil {
		return nil, err
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.CameraBaseURL = rt.Camera.BaseURL()
	orchCfg.InputURI = cfg.Relay.InputURI
	orchCfg.OutputURI = cfg.Relay.OutputURI
	orchCfg.PlayerURI = cfg.PlayerURI()
	orchCfg.RestartEnabled = cfg.Session.RestartEnabled
	orchCfg.SpawnDelay = cfg.Session.SpawnDelay
	orchCfg.GraceDelay = cfg.Session.GraceDelay
	orchCfg.RetryBackoff = cfg.Session.RetryBackoff
	orchCfg.HealthInterval = cfg.Session.HealthInterval
	orchCfg.ReadinessProbe = cfg.Session.ReadinessProbe
	orchCfg.RelayStallTimeout = cfg.Session.RelayStallTimeout
	if cfg.Session.Workers > 0 {
		orchCfg.Workers = cfg.Session.Workers
	}
	if cfg.Camera.Timeout > 0 {
		// shutter stop, settle and stream start share one deadline; the
		// client makes a single attempt per request and never retries
		orchCfg.CameraTimeout = 2*cfg.Camera.Timeout + cfg.Camera.ShutterSettle
	}

	rt.Orchestrator, err = orchestrator.New(orchCfg, orchestrator.Deps{
		Camera: rt.Camera,
		Relay:  orchestrator.SupervisorRelay(rt.Relay),
		Sink:   rt.Sink,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	rt.Health = health.NewManager(cfg.Version)
	rt.Health.RegisterChecker(rt.Orchestrator.Checker())
	rt.Health.RegisterChecker(health.NewBinaryChecker("relay_binary", cfg.Relay.BinPath))
	if cfg.Playback.Backend == playback.BackendExec {
		rt.Health.RegisterChecker(health.NewBinaryChecker("player_binary", cfg.Playback.Exec.BinPath))
	}

	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = "camrelay-api"
	}
	rt.API = api.New(api.Config{
		Version:            cfg.Version,
		RateLimitPerMinute: cfg.API.RateLimit,
		TracingService:     tracing,
		EnableMetrics:      cfg.Metrics.Enabled,
	}, rt.Orchestrator, rt.Health)

	rt.logger.Info().
		Str(log.FieldBaseURL, rt.Camera.BaseURL()).
		Str(log.FieldInputURI, cfg.Relay.InputURI).
		Str(log.FieldOutputURI, cfg.Relay.OutputURI).
		Str(log.FieldSourceURI, cfg.PlayerURI()).
		Str(log.FieldBackend, cfg.Playback.Backend).
		Str(log.FieldSessionID, rt.Orchestrator.Session().ID).
		Msg("runtime initialised")
	return rt, nil
}

func buildCamera(ctx context.Context, cfg config.AppConfig) (*camera.Client, error) {
	opts := camera.Options{
		Timeout:                cfg.Camera.Timeout,
		ConnectTimeout:         cfg.Camera.ConnectTimeout,
		UserAgent:              cfg.Camera.UserAgent,
		RateLimit:              rate.Limit(cfg.Camera.RateLimit),
		RateLimitBurst:         cfg.Camera.RateBurst,
		BreakerThreshold:       cfg.Camera.BreakerThreshold,
		BreakerReset:           cfg.Camera.BreakerReset,
		StopShutterBeforeStart: cfg.Camera.StopShutterBeforeStart,
		ShutterSettle:          cfg.Camera.ShutterSettle,
	}
	if cfg.Camera.Serial == "" {
		return camera.NewClient(cfg.CameraBaseURL(), opts), nil
	}

	local, err := camera.FindWiredLocalAddr(ctx, cfg.Camera.Serial, cfg.Camera.WiredSetupAttempts, cfg.Camera.WiredSetupDelay)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWiredSetup, err)
	}
	opts.LocalAddr = local
	client := camera.NewClient(cfg.CameraBaseURL(), opts)
	if err := client.ResetWiredMode(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrWiredSetup, err)
	}
	return client, nil
}

func buildSink(cfg config.PlaybackConfig, forward io.Writer) (playback.Sink, error) {
	opts := []playback.Option{playback.WithExecConfig(cfg.Exec)}
	if forward != nil {
		opts = append(opts, playback.WithForward(forward))
	}
	sink, err := playback.New(cfg.Backend, cfg.Tuning, opts...)
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	return sink, nil
}

// Close releases the session and every owned resource.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.API != nil {
		rt.API.CloseStreams()
	}
	if rt.Orchestrator != nil {
		if err := rt.Orchestrator.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release session: %w", err))
		}
	} else if rt.Sink != nil {
		if err := rt.Sink.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sink: %w", err))
		}
	}
	if rt.forward != nil {
		_ = rt.forward.Close()
	}
	if rt.Camera != nil {
		rt.Camera.Close()
	}
	if rt.Telemetry != nil {
		if err := rt.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
