// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"

	"github.com/tailscale/tscert"
)

// CheckTLSConfig validates TLS configuration and returns whether TLS should be enabled.
// Returns an error if configuration is invalid.
func CheckTLSConfig(certPath, keyPath string) (bool, error) {
	if certPath == "" && keyPath == "" {
		return false, nil
	}
	if certPath == "" || keyPath == "" {
		return false, fmt.Errorf("both tls_cert and tls_key must be specified (got cert=%q, key=%q)", certPath, keyPath)
	}

	certPath = expandPath(certPath)
	keyPath = expandPath(keyPath)
	if !fileExists(certPath) {
		return false, fmt.Errorf("tls_cert file not found: %s", certPath)
	}
	if !fileExists(keyPath) {
		return false, fmt.Errorf("tls_key file not found: %s", keyPath)
	}
	return true, nil
}

// tlsSetup describes how the server terminates TLS.
type tlsSetup struct {
	enabled  bool
	certFile string
	keyFile  string
	source   string
}

// configureTLS installs the TLS settings cfg asks for on srv. Tailscale
// certificates are fetched per handshake from the local tailscaled, so no
// files are involved.
func configureTLS(srv *http.Server, cfg ServerConfig) (tlsSetup, error) {
	if cfg.TailscaleTLS {
		if cfg.TLSCert != "" || cfg.TLSKey != "" {
			return tlsSetup{}, fmt.Errorf("tailscale_tls and tls_cert/tls_key are mutually exclusive")
		}
		srv.TLSConfig = &tls.Config{
			GetCertificate: tscert.GetCertificate,
		}
		return tlsSetup{enabled: true, source: "tailscale certificates"}, nil
	}

	enabled, err := CheckTLSConfig(cfg.TLSCert, cfg.TLSKey)
	if err != nil || !enabled {
		return tlsSetup{}, err
	}
	return tlsSetup{
		enabled:  true,
		certFile: expandPath(cfg.TLSCert),
		keyFile:  expandPath(cfg.TLSKey),
		source:   "TLS enabled",
	}, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
