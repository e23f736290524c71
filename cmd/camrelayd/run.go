// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/camrelay/internal/api"
	"github.com/ManuGH/camrelay/internal/config"
	"github.com/ManuGH/camrelay/internal/daemon"
	"github.com/ManuGH/camrelay/internal/health"
	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/version"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts.configPath)
		},
	}
}

func runDaemon(ctx context.Context, configPath string) error {
	log.Configure(log.Config{Level: "info", Version: version.Version})
	logger := log.WithComponent("daemon")

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str("config_path", configPath).
			Msg("failed to load configuration")
		return err
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Console: cfg.Log.Console, Version: version.Version})
	logger = log.WithComponent("daemon")
	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", configPath).
		Str("version", version.String()).
		Msg("loaded configuration")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and installed binaries")
		return err
	}

	rt, err := daemon.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	deps := daemon.Deps{
		Logger:        logger,
		APIHandler:    rt.API.Handler(),
		OnAPIShutdown: rt.API.CloseStreams,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = api.MetricsHandler()
		deps.MetricsAddr = cfg.Metrics.Listen
	}

	mgr, err := daemon.NewManager(daemon.DefaultServerConfig(cfg.API.Listen, cfg.API.ShutdownTimeout), deps)
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return err
	}
	mgr.RegisterShutdownHook("runtime", rt.Close)

	holder := config.NewConfigHolder(cfg, loader)
	app := daemon.NewApp(logger, mgr, holder, rt.Orchestrator, cfg.Session.AutoStart)
	return app.Run(ctx)
}
