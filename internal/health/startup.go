// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camrelay/internal/config"
	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/playback"
	"github.com/ManuGH/camrelay/internal/relay"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving: external binaries resolve and the relay input port is free.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkBinary(logger, "relay", cfg.Relay.BinPath); err != nil {
		return err
	}
	if cfg.Playback.Backend == playback.BackendExec {
		if err := checkBinary(logger, "player", cfg.Playback.Exec.BinPath); err != nil {
			return err
		}
	}
	if err := checkUDPPortFree(ctx, logger, cfg.Relay.InputURI); err != nil {
		return fmt.Errorf("relay input check failed: %w", err)
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkBinary(logger zerolog.Logger, role, bin string) error {
	path, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("%s binary not found (%s): %w", role, bin, err)
	}
	logger.Info().Str("role", role).Str("path", path).Msg("✓ binary available")
	return nil
}

// checkUDPPortFree binds the relay input address briefly. A camera stream
// cannot reach the relay when another process already owns the port.
func checkUDPPortFree(ctx context.Context, logger zerolog.Logger, inputURI string) error {
	ep, err := relay.ParseUDPURI(inputURI)
	if err != nil {
		return err
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", ep.Address())
	if err != nil {
		return fmt.Errorf("relay input %s unavailable: %w", ep.Address(), err)
	}
	_ = conn.Close()
	logger.Info().Str("addr", ep.Address()).Msg("✓ relay input port is free")
	return nil
}
