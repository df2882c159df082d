// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateAgent(cfg, errs)
	v.validateAuth(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateDurations(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535")
	}

	hasCertKey := cfg.Server.TLSCert != "" || cfg.Server.TLSKey != ""
	if cfg.Server.TailscaleTLS && hasCertKey {
		errs.Add("server", "tailscale_tls and tls_cert/tls_key are mutually exclusive")
	}
	if !cfg.Server.TailscaleTLS && (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs.Add("server", "both tls_cert and tls_key must be specified together")
	}

	if cfg.Server.BaseURL != "" {
		u, err := url.Parse(cfg.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("server.base_url", fmt.Sprintf("invalid URL '%s'", cfg.Server.BaseURL))
		}
	}
}

func (v *Validator) validateAgent(cfg *Config, errs *ValidationError) {
	if len(cfg.Agent.Command) > 0 && strings.TrimSpace(cfg.Agent.Command[0]) == "" {
		errs.Add("agent.command", "first element must name an executable")
	}
	if cfg.Agent.BufferSize < 0 {
		errs.Add("agent.buffer_size", "must be positive")
	}
}

func (v *Validator) validateAuth(cfg *Config, errs *ValidationError) {
	if cfg.Auth.JWTSecret != "" && cfg.Auth.JWKSURL != "" {
		errs.Add("auth", "jwt_secret and jwks_url are mutually exclusive")
	}
	if cfg.Auth.JWKSURL != "" {
		u, err := url.Parse(cfg.Auth.JWKSURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
			errs.Add("auth.jwks_url", fmt.Sprintf("invalid URL '%s'", cfg.Auth.JWKSURL))
		}
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}

	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{
			"json": true,
			"text": true,
		}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	durations := []struct {
		field    string
		value    string
		interval bool // tickers reject zero
	}{
		{"agent.stop_grace", cfg.Agent.StopGrace, false},
		{"agent.max_idle", cfg.Agent.MaxIdle, false},
		{"agent.sweep_interval", cfg.Agent.SweepInterval, true},
		{"approvals.timeout", cfg.Approvals.Timeout, false},
		{"approvals.review_timeout", cfg.Approvals.ReviewTimeout, false},
		{"approvals.max_age", cfg.Approvals.MaxAge, false},
		{"approvals.gc_interval", cfg.Approvals.GCInterval, true},
		{"watch.debounce", cfg.Watch.Debounce, false},
		{"events.history.max_age", cfg.Events.History.MaxAge, false},
		{"metrics.interval", cfg.Metrics.Interval, false},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		switch {
		case err != nil:
			errs.Add(d.field, fmt.Sprintf("invalid duration format: %s", err))
		case parsed < 0:
			errs.Add(d.field, "must be positive")
		case parsed == 0 && d.interval:
			errs.Add(d.field, "must be greater than zero")
		}
	}
}
