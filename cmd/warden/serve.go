// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/wingedpig/warden/internal/app"
	"github.com/wingedpig/warden/internal/config"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the warden server",
		Long: `Run the warden server.

Without --config, warden.hjson or warden.json in the current directory is
used if present; otherwise built-in defaults apply. WARDEN_* environment
variables override file settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Find config file if not specified
			if configPath == "" {
				if found, err := config.NewLoader().FindConfig(); err == nil {
					configPath = found
				}
			}

			application, err := app.New(app.Options{
				ConfigPath: configPath,
				Host:       host,
				Port:       port,
				Debug:      debug,
				Version:    version,
				LogOutput:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			if configPath != "" {
				log.Printf("Using config: %s", configPath)
			}
			return application.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: auto-detect)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
