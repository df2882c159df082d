// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvHost         = "WARDEN_HOST"
	EnvPort         = "WARDEN_PORT"
	EnvJWTSecret    = "WARDEN_JWT_SECRET"
	EnvLogLevel     = "WARDEN_LOG_LEVEL"
	EnvAgentCommand = "WARDEN_AGENT_COMMAND"
	EnvStoreDir     = "WARDEN_STORE_DIR"
	EnvOTLPEndpoint = "WARDEN_OTLP_ENDPOINT"
)

// ApplyEnv overlays environment variables onto cfg. WARDEN_AGENT_COMMAND is
// split on whitespace.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvHost); v != "" {
		cfg.Server.Host = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v := getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.Fields(getenv(EnvAgentCommand)); len(v) > 0 {
		cfg.Agent.Command = v
	}
	if v := getenv(EnvStoreDir); v != "" {
		cfg.Store.Dir = v
	}
	if v := getenv(EnvOTLPEndpoint); v != "" {
		cfg.Metrics.OTLPEndpoint = v
	}
	return nil
}
