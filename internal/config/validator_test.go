// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate_ValidConfig(t *testing.T) {
	cfg := &Config{
		Version: "1.0",
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Agent: AgentConfig{
			Command: []string{"claude"},
		},
	}

	validator := NewValidator()
	err := validator.Validate(cfg)
	assert.NoError(t, err)
}

func TestValidator_Validate_ServerConfig(t *testing.T) {
	tests := []struct {
		name        string
		server      ServerConfig
		errContains string
	}{
		{"negative port", ServerConfig{Port: -1}, "server.port"},
		{"port too large", ServerConfig{Port: 70000}, "server.port"},
		{"cert without key", ServerConfig{TLSCert: "cert.pem"}, "both tls_cert and tls_key"},
		{"tailscale with cert", ServerConfig{TailscaleTLS: true, TLSCert: "c", TLSKey: "k"}, "mutually exclusive"},
		{"relative base url", ServerConfig{BaseURL: "warden.local"}, "server.base_url"},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(&Config{Server: tt.server})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}

	assert.NoError(t, validator.Validate(&Config{Server: ServerConfig{TailscaleTLS: true, BaseURL: "https://box.ts.net"}}))
}

func TestValidator_Validate_AgentConfig(t *testing.T) {
	validator := NewValidator()

	err := validator.Validate(&Config{Agent: AgentConfig{Command: []string{" "}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.command")

	err = validator.Validate(&Config{Agent: AgentConfig{BufferSize: -5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.buffer_size")
}

func TestValidator_Validate_AuthConfig(t *testing.T) {
	validator := NewValidator()

	err := validator.Validate(&Config{Auth: AuthConfig{JWTSecret: "s", JWKSURL: "https://a/jwks"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	err = validator.Validate(&Config{Auth: AuthConfig{JWKSURL: "ftp://a/jwks"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwks_url")

	assert.NoError(t, validator.Validate(&Config{Auth: AuthConfig{JWKSURL: "https://auth.example.com/jwks.json"}}))
}

func TestValidator_Validate_LoggingConfig(t *testing.T) {
	tests := []struct {
		name    string
		logging LoggingConfig
		wantErr bool
	}{
		{"valid", LoggingConfig{Level: "debug", Format: "text"}, false},
		{"empty", LoggingConfig{}, false},
		{"bad level", LoggingConfig{Level: "verbose"}, true},
		{"bad format", LoggingConfig{Format: "xml"}, true},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(&Config{Logging: tt.logging})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_Validate_DurationFormats(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		errContains string
	}{
		{"bad max idle", &Config{Agent: AgentConfig{MaxIdle: "forever"}}, "agent.max_idle"},
		{"negative timeout", &Config{Approvals: ApprovalsConfig{Timeout: "-5s"}}, "approvals.timeout"},
		{"zero sweep", &Config{Agent: AgentConfig{SweepInterval: "0s"}}, "agent.sweep_interval"},
		{"zero gc", &Config{Approvals: ApprovalsConfig{GCInterval: "0"}}, "approvals.gc_interval"},
		{"bad debounce", &Config{Watch: WatchConfig{Debounce: "soon"}}, "watch.debounce"},
		{"bad history age", &Config{Events: EventsConfig{History: HistoryConfig{MaxAge: "1 hour"}}}, "events.history.max_age"},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}

	// A zero max idle is allowed.
	assert.NoError(t, validator.Validate(&Config{Agent: AgentConfig{MaxIdle: "0s"}}))
}

func TestValidator_Validate_CollectsAllErrors(t *testing.T) {
	err := NewValidator().Validate(&Config{
		Server:  ServerConfig{Port: -1},
		Logging: LoggingConfig{Level: "loud"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "server.port", Message: "must be between 0 and 65535"},
			{Field: "logging.level", Message: "invalid level"},
		},
	}

	errStr := err.Error()
	assert.Contains(t, errStr, "server.port")
	assert.Contains(t, errStr, "logging.level")
}

func TestValidationError_IsEmpty(t *testing.T) {
	err := &ValidationError{}
	assert.True(t, err.IsEmpty())

	err.Errors = append(err.Errors, FieldError{Field: "test", Message: "error"})
	assert.False(t, err.IsEmpty())
}
