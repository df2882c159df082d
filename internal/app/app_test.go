// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/warden/internal/config"
	"github.com/wingedpig/warden/internal/events"
	"github.com/wingedpig/warden/internal/logging"
)

func writeConfig(t *testing.T, path, storeDir, level string) {
	t.Helper()
	content := fmt.Sprintf(`{
  server: { host: "127.0.0.1" }
  store: { dir: %q }
  logging: { level: %q, format: "text" }
  agent: { max_idle: "10m" }
  watch: { disabled: true }
}`, storeDir, level)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "warden.hjson")
	writeConfig(t, cfgPath, filepath.Join(dir, "store"), "info")

	app, err := New(Options{ConfigPath: cfgPath, Port: freePort(t), Version: "test", LogOutput: io.Discard})
	require.NoError(t, err)
	return app, cfgPath
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNew_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "warden.hjson")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{ logging: { level: "loud" } }`), 0o644))

	_, err := New(Options{ConfigPath: cfgPath, LogOutput: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestNew_Overrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "warden.hjson")
	writeConfig(t, cfgPath, dir, "info")

	app, err := New(Options{ConfigPath: cfgPath, Host: "0.0.0.0", Port: 9999, Debug: true, LogOutput: io.Discard})
	require.NoError(t, err)
	defer app.eventBus.Close()

	cfg := app.Config()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApp_StartServesAndShutsDown(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Initialize(ctx))
	require.NoError(t, app.Start(ctx))

	resp, err := http.Get("http://" + app.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, "test", body.Data.Version)

	// Sessions persist through the bolt store.
	workDir := t.TempDir()
	sess, err := app.Supervisor().CreateSession(ctx, "local", workDir, "", "")
	require.NoError(t, err)

	require.NoError(t, app.Shutdown(ctx))

	_, err = os.Stat(filepath.Join(app.Config().Store.Dir, sessionDBName))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(app.Config().Store.Dir, auditDBName))
	assert.NoError(t, err)

	// A second app over the same store sees the session.
	again, err := New(Options{ConfigPath: app.configPath, Port: freePort(t), LogOutput: io.Discard})
	require.NoError(t, err)
	require.NoError(t, again.Initialize(ctx))
	defer again.Shutdown(ctx)

	got, err := again.Supervisor().Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, workDir, got.WorkDir)
}

func TestApp_Reload(t *testing.T) {
	app, cfgPath := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, app.Initialize(ctx))
	defer app.Shutdown(ctx)

	received := make(chan events.Event, 1)
	_, err := app.eventBus.Subscribe("config.reloaded", func(_ context.Context, ev events.Event) error {
		received <- ev
		return nil
	})
	require.NoError(t, err)

	port := app.Config().Server.Port
	writeConfig(t, cfgPath, filepath.Join(t.TempDir(), "elsewhere"), "debug")
	require.NoError(t, app.Reload(ctx))

	assert.Equal(t, slog.LevelDebug, logging.Level.Level())
	assert.Equal(t, "debug", app.Config().Logging.Level)
	// Server and store settings keep their startup values.
	assert.Equal(t, port, app.Config().Server.Port)
	assert.NotContains(t, app.Config().Store.Dir, "elsewhere")

	select {
	case ev := <-received:
		assert.Equal(t, cfgPath, ev.Payload["path"])
	case <-time.After(2 * time.Second):
		t.Fatal("config.reloaded not published")
	}
}

func TestApp_ReloadRejectsInvalid(t *testing.T) {
	app, cfgPath := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, app.Initialize(ctx))
	defer app.Shutdown(ctx)

	require.NoError(t, os.WriteFile(cfgPath, []byte(`{ approvals: { timeout: "soon" } }`), 0o644))
	require.Error(t, app.Reload(ctx))
	assert.Equal(t, "info", app.Config().Logging.Level)
}

func TestBaseURL(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}

	tests := []struct {
		name string
		srv  config.ServerConfig
		want string
	}{
		{"explicit", config.ServerConfig{BaseURL: "https://warden.example"}, "https://warden.example"},
		{"loopback", config.ServerConfig{Host: "127.0.0.1", Port: 0}, "http://127.0.0.1:5555"},
		{"wildcard host", config.ServerConfig{Host: "0.0.0.0"}, "http://127.0.0.1:5555"},
		{"tls", config.ServerConfig{Host: "warden.local", TLSCert: "c", TLSKey: "k"}, "https://warden.local:5555"},
		{"tailscale", config.ServerConfig{Host: "box.ts.net", TailscaleTLS: true}, "https://box.ts.net:5555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, baseURL(&config.Config{Server: tt.srv}, addr))
		})
	}
}

func TestStop_Idempotent(t *testing.T) {
	app, _ := newTestApp(t)
	defer app.eventBus.Close()
	app.Stop()
	app.Stop()
	select {
	case <-app.done:
	default:
		t.Fatal("done not closed")
	}
}
