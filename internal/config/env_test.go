// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvHost:         "0.0.0.0",
		EnvPort:         "8123",
		EnvJWTSecret:    "hunter2",
		EnvLogLevel:     "warn",
		EnvAgentCommand: "  /opt/claude/bin/claude   --verbose ",
		EnvStoreDir:     "/tmp/warden",
		EnvOTLPEndpoint: "localhost:4317",
	}
	cfg := &Config{Server: ServerConfig{Host: "127.0.0.1", Port: 1}}
	require.NoError(t, ApplyEnv(cfg, func(k string) string { return env[k] }))

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"/opt/claude/bin/claude", "--verbose"}, cfg.Agent.Command)
	assert.Equal(t, "/tmp/warden", cfg.Store.Dir)
	assert.Equal(t, "localhost:4317", cfg.Metrics.OTLPEndpoint)
}

func TestApplyEnv_EmptyLeavesFileValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 8080}, Agent: AgentConfig{Command: []string{"claude"}}}
	require.NoError(t, ApplyEnv(cfg, func(string) string { return "" }))
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"claude"}, cfg.Agent.Command)
}

func TestApplyEnv_InvalidPort(t *testing.T) {
	cfg := &Config{}
	err := ApplyEnv(cfg, func(k string) string {
		if k == EnvPort {
			return "eighty"
		}
		return ""
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPort)
}
