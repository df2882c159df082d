// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTLSConfig(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o600))

	enabled, err := CheckTLSConfig("", "")
	assert.NoError(t, err)
	assert.False(t, enabled)

	_, err = CheckTLSConfig(cert, "")
	assert.Error(t, err)

	_, err = CheckTLSConfig(cert, filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)

	enabled, err = CheckTLSConfig(cert, key)
	assert.NoError(t, err)
	assert.True(t, enabled)
}

func TestConfigureTLS_Tailscale(t *testing.T) {
	srv := &http.Server{}
	setup, err := configureTLS(srv, ServerConfig{TailscaleTLS: true})
	require.NoError(t, err)
	assert.True(t, setup.enabled)
	assert.Empty(t, setup.certFile)
	require.NotNil(t, srv.TLSConfig)
	assert.NotNil(t, srv.TLSConfig.GetCertificate)

	_, err = configureTLS(&http.Server{}, ServerConfig{TailscaleTLS: true, TLSCert: "c", TLSKey: "k"})
	assert.Error(t, err)
}

func TestConfigureTLS_Plain(t *testing.T) {
	srv := &http.Server{}
	setup, err := configureTLS(srv, ServerConfig{})
	require.NoError(t, err)
	assert.False(t, setup.enabled)
	assert.Nil(t, srv.TLSConfig)
}
