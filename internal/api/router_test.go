// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/warden/internal/api/version"
	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/auth"
	"github.com/wingedpig/warden/internal/claude"
)

const testSecret = "router-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gw := approval.NewGateway(approval.NewQueue(), approval.GatewayConfig{})
	sup := claude.NewSupervisor(claude.Config{Command: []string{"/nonexistent/agent"}}, claude.Deps{Approvals: gw})
	return NewRouter(Dependencies{
		Supervisor: sup,
		Gateway:    gw,
		Verifier:   auth.NewSecretValidator(auth.Config{Secret: testSecret}),
		Version:    "test",
	})
}

func serve(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Healthz(t *testing.T) {
	r := newTestRouter(t)
	rec := serve(r, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, version.LatestVersion, rec.Header().Get(version.Header))
}

func TestRouter_UserRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)

	rec := serve(r, "GET", "/api/v1/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	token, err := auth.Sign(testSecret, "alice", time.Minute)
	require.NoError(t, err)
	rec = serve(r, "GET", "/api/v1/sessions", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, "POST", "/api/v1/sessions", token, `{"work_dir":"`+t.TempDir()+`"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRouter_HelperRoutesSkipBearer(t *testing.T) {
	r := newTestRouter(t)

	rec := serve(r, "POST", "/api/v1/helper/approvals", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, "POST", "/api/v1/helper/approvals", "", `{"session_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Preflight(t *testing.T) {
	r := newTestRouter(t)
	rec := serve(r, "OPTIONS", "/api/v1/sessions", "", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_NotFound(t *testing.T) {
	r := newTestRouter(t)
	token, err := auth.Sign(testSecret, "alice", time.Minute)
	require.NoError(t, err)
	rec := serve(r, "GET", "/api/v1/sessions/nope", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}
