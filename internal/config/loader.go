// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct {
	// Getenv reads overlay variables. Defaults to os.Getenv.
	Getenv func(string) string
}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{Getenv: os.Getenv}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes HJSON config bytes.
func Parse(data []byte) (*Config, error) {
	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config, overlays the environment and applies
// default values. An empty path skips the file and starts from an empty
// config.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		cfg, err = l.Load(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := ApplyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for warden.hjson first, then warden.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"warden.hjson",
		"warden.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for warden.hjson, warden.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7420
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// Agent defaults
	if len(cfg.Agent.Command) == 0 {
		cfg.Agent.Command = []string{"claude"}
	}
	if cfg.Agent.BufferSize == 0 {
		cfg.Agent.BufferSize = 1000
	}
	if cfg.Agent.StopGrace == "" {
		cfg.Agent.StopGrace = "5s"
	}
	if cfg.Agent.MaxIdle == "" {
		cfg.Agent.MaxIdle = "30m"
	}
	if cfg.Agent.SweepInterval == "" {
		cfg.Agent.SweepInterval = "1m"
	}

	// Approval defaults
	if cfg.Approvals.Timeout == "" {
		cfg.Approvals.Timeout = "120s"
	}
	if cfg.Approvals.ReviewTimeout == "" {
		cfg.Approvals.ReviewTimeout = "300s"
	}
	if cfg.Approvals.MaxAge == "" {
		cfg.Approvals.MaxAge = "30m"
	}
	if cfg.Approvals.GCInterval == "" {
		cfg.Approvals.GCInterval = "1m"
	}

	// Store defaults
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = defaultStoreDir()
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Watch defaults
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "100ms"
	}

	// Events defaults
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}

	// Metrics defaults
	if cfg.Metrics.Interval == "" {
		cfg.Metrics.Interval = "60s"
	}
}

func defaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "warden")
	}
	return ".warden"
}
