// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/camrelay/internal/config"
	"github.com/ManuGH/camrelay/internal/log"
)

// Session is the part of the orchestrator the App drives directly.
type Session interface {
	Start() error
	SetRestartEnabled(enabled bool) error
}

// App owns the long-lived runtime lifecycle (config watcher, reload wiring,
// autostart) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	session      Session
	autoStart    bool
	reloadSignal os.Signal
}

// NewApp creates a new App.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, session Session, autoStart bool) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		session:      session,
		autoStart:    autoStart,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a server fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// The watcher is best-effort; SIGHUP still reloads without it.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
	}

	if a.cfgHolder != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.autoStart && a.session != nil {
		if err := a.session.Start(); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "session.autostart_failed").Msg("autostart failed")
		} else {
			a.logger.Info().Str(log.FieldEvent, "session.autostart").Msg("session started")
		}
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	err := g.Wait()
	if a.cfgHolder != nil {
		a.cfgHolder.Wait()
	}
	return err
}

// apply pushes the hot-reloadable settings into the running components.
func (a *App) apply(cfg config.AppConfig) {
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		a.logger.Warn().Err(err).Str("level", cfg.Log.Level).Msg("ignoring invalid log level")
	}
	if a.session == nil {
		return
	}
	if err := a.session.SetRestartEnabled(cfg.Session.RestartEnabled); err != nil {
		a.logger.Warn().Err(err).Msg("failed to apply restart policy")
	}
}
