// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading.
package config

import (
	"time"
)

// Config is the root configuration structure for Warden.
type Config struct {
	Version   string          `json:"version"`
	Server    ServerConfig    `json:"server"`
	Agent     AgentConfig     `json:"agent"`
	Approvals ApprovalsConfig `json:"approvals"`
	Store     StoreConfig     `json:"store"`
	Auth      AuthConfig      `json:"auth"`
	Events    EventsConfig    `json:"events"`
	Watch     WatchConfig     `json:"watch"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	TLSCert      string `json:"tls_cert"`      // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey       string `json:"tls_key"`       // Path to TLS private key file
	TailscaleTLS bool   `json:"tailscale_tls"` // Serve HTTPS with certificates from the local tailscaled
	BaseURL      string `json:"base_url"`      // URL agent processes use to reach the server; derived from host/port if empty
}

// AgentConfig configures the agent processes the supervisor spawns.
type AgentConfig struct {
	Command       []string          `json:"command"`
	Env           map[string]string `json:"env"`
	BufferSize    int               `json:"buffer_size"`    // Reconnect buffer capacity per process
	StopGrace     string            `json:"stop_grace"`     // Wait after closing stdin before killing
	MaxIdle       string            `json:"max_idle"`       // Disconnected time before a process is stopped
	SweepInterval string            `json:"sweep_interval"` // How often idle processes are checked
}

// ApprovalsConfig configures the approval gateway.
type ApprovalsConfig struct {
	Timeout       string `json:"timeout"`        // Default wait for permission and question requests
	ReviewTimeout string `json:"review_timeout"` // Default wait for plan and commit reviews
	MaxAge        string `json:"max_age"`        // Pending requests older than this are expired
	GCInterval    string `json:"gc_interval"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Dir string `json:"dir"` // Holds warden.db (sessions) and audit.db (approvals)
}

// AuthConfig configures bearer token verification. Leaving both jwt_secret
// and jwks_url empty disables authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWKSURL   string `json:"jwks_url"`
	Issuer    string `json:"issuer"`
	Audience  string `json:"audience"`
}

// Enabled reports whether requests must carry a token.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.JWKSURL != ""
}

// EventsConfig configures the event system.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig configures event history retention.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WatchConfig configures config file watching.
type WatchConfig struct {
	Disabled bool   `json:"disabled"`
	Debounce string `json:"debounce"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig configures OTLP metric export. An empty endpoint disables it.
type MetricsConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint"`
	Insecure     bool   `json:"insecure"`
	Interval     string `json:"interval"`
}

// ParseDuration parses a duration string, returning a default if empty.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
