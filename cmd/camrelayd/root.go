// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/spf13/cobra"

	"github.com/ManuGH/camrelay/internal/config"
)

const envConfigPath = config.EnvPrefix + "CONFIG"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "camrelayd",
		Short:         "Camera stream relay daemon",
		Long:          "camrelayd starts the camera stream, relays it through ffmpeg and plays it back locally.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts.configPath)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.ParseString(envConfigPath, ""),
		"path to config file (YAML), env "+envConfigPath)

	root.AddCommand(
		newRunCmd(opts),
		newConfigCmd(opts),
		newRelayCmd(opts),
		newHealthcheckCmd(),
		newVersionCmd(),
	)
	return root
}
