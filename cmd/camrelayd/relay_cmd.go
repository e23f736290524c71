// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/camrelay/internal/config"
	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/relay"
	"github.com/ManuGH/camrelay/internal/version"
)

// newRelayCmd runs only the relay process in the foreground, without the
// camera or the player. Useful when the camera is started by other means.
func newRelayCmd(opts *rootOptions) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the ffmpeg relay in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(opts.configPath, version.Version).Load()
			if err != nil {
				return err
			}
			log.Configure(log.Config{Level: cfg.Log.Level, Console: cfg.Log.Console, Version: version.Version})

			if in == "" {
				in = cfg.Relay.InputURI
			}
			if out == "" {
				out = cfg.Relay.OutputURI
			}
			sup := relay.New(relay.Config{
				BinPath:     cfg.Relay.BinPath,
				KillTimeout: cfg.Relay.KillTimeout,
				ProbeSize:   cfg.Relay.ProbeSize,
				PacketSize:  cfg.Relay.PacketSize,
				StderrLines: cfg.Relay.StderrLines,
			})

			st, err := sup.Run(cmd.Context(), in, out)
			if err != nil && !errors.Is(err, cmd.Context().Err()) {
				return err
			}
			_, werr := fmt.Fprintf(cmd.OutOrStdout(), "relay exited: %s (code %d)\n", st.Reason, st.Code)
			return werr
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "relay input URI (default from config)")
	cmd.Flags().StringVar(&out, "out", "", "relay output URI (default from config)")
	return cmd
}
