// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"bufio"
	"bytes"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/warden/internal/auth"
)

// captureLog redirects the standard logger for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return &buf
}

func TestLogging_User(t *testing.T) {
	const secret = "test-secret"
	token, err := auth.Sign(secret, "alice", time.Minute)
	require.NoError(t, err)

	noContent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	secretAuth := Auth(auth.NewSecretValidator(auth.Config{Secret: secret}))
	tests := []struct {
		name    string
		handler http.Handler
		header  string
		status  string
		user    string
	}{
		{"no auth", noContent, "", "204 0", "-"},
		{"auth disabled", Auth(auth.Disabled{})(noContent), "", "204 0", "local"},
		{"bearer token", secretAuth(noContent), "Bearer " + token, "204 0", "alice"},
		{"rejected token", secretAuth(noContent), "Bearer nope", "401", "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			Logging(tt.handler).ServeHTTP(httptest.NewRecorder(), req)

			line := buf.String()
			assert.Contains(t, line, "GET /api/v1/sessions "+tt.status+" ")
			assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "user="+tt.user), line)
		})
	}
}

func TestLogging_BodySize(t *testing.T) {
	buf := captureLog(t)
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
		w.Write([]byte("!"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "nope!", rec.Body.String())
	assert.Contains(t, buf.String(), "GET /missing 404 5 ")
}

// hijackRecorder is a recorder whose connection can be taken over.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn)), nil
}

func TestLogging_WebSocketUpgrade(t *testing.T) {
	buf := captureLog(t)
	server, client := net.Pipe()
	defer client.Close()

	handler := Logging(Auth(auth.Disabled{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	})))
	handler.ServeHTTP(&hijackRecorder{ResponseRecorder: httptest.NewRecorder(), conn: server},
		httptest.NewRequest("GET", "/api/v1/sessions/s1/ws", nil))

	line := buf.String()
	assert.Contains(t, line, "GET /api/v1/sessions/s1/ws 101 ws ")
	assert.Contains(t, line, "user=local")
}

func TestLogging_HijackUnsupported(t *testing.T) {
	aw := newAccessWriter(httptest.NewRecorder())
	_, _, err := aw.Hijack()
	assert.ErrorIs(t, err, http.ErrNotSupported)
	assert.False(t, aw.hijacked)
	assert.Equal(t, "-", aw.user)
}

func TestRecovery(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	wrapped := Recovery(handler)

	req := httptest.NewRequest("GET", "/panic", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	wrapped := Recovery(handler)

	req := httptest.NewRequest("GET", "/ok", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCORS(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := CORS(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_Preflight(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for OPTIONS")
	})

	wrapped := CORS(handler)

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	v := auth.NewSecretValidator(auth.Config{Secret: secret})

	var seen string
	handler := Auth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
		assert.Contains(t, rec.Body.String(), "missing bearer token")
	})

	t.Run("bad token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid header", func(t *testing.T) {
		token, err := auth.Sign(secret, "alice", time.Minute)
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", seen)
	})

	t.Run("query token", func(t *testing.T) {
		token, err := auth.Sign(secret, "bob", time.Minute)
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ws?token="+token, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", seen)
	})
}
