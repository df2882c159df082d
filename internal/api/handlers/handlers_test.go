// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/auth"
	"github.com/wingedpig/warden/internal/claude"
	"github.com/wingedpig/warden/internal/events"
)

// TestFakeAgent is not a real test. It is re-executed as a minimal agent
// that announces itself and then reads stdin until it is closed.
func TestFakeAgent(t *testing.T) {
	if os.Getenv("GO_WANT_FAKE_AGENT") != "1" {
		return
	}
	fmt.Printf(`{"type":"system","subtype":"init","session_id":"agent-%d","model":"test-model"}`+"\n", os.Getpid())
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
	}
	os.Exit(0)
}

type testEnv struct {
	sup *claude.Supervisor
	gw  *approval.Gateway
	bus *events.MemoryEventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{bus: events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})}
	env.gw = approval.NewGateway(approval.NewQueue(), approval.GatewayConfig{
		Bus:   env.bus,
		Owner: func(id string) string { return env.sup.Owner(id) },
	})
	env.sup = claude.NewSupervisor(claude.Config{
		Command:   []string{os.Args[0], "-test.run=^TestFakeAgent$", "--"},
		Env:       []string{"GO_WANT_FAKE_AGENT=1"},
		StopGrace: 500 * time.Millisecond,
	}, claude.Deps{Approvals: env.gw, Bus: env.bus})
	env.gw.Queue().OnHeadChange(env.sup.NotifyApproval)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.sup.Shutdown(ctx)
		env.bus.Close()
	})
	return env
}

func (env *testEnv) createSession(t *testing.T, user string) claude.Session {
	t.Helper()
	sess, err := env.sup.CreateSession(context.Background(), user, t.TempDir(), "", "")
	require.NoError(t, err)
	return sess
}

// newRequest builds a request authenticated as user with route vars set.
func newRequest(method, target, user string, body interface{}, vars map[string]string) *http.Request {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if user != "" {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp struct {
		Data  json.RawMessage `json:"data"`
		Error *ErrorInfo      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error, "unexpected error response: %s", rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error, "expected error response: %s", rec.Body.String())
	return resp.Error.Code
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{claude.ErrSessionNotFound, http.StatusNotFound, ErrNotFound},
		{claude.ErrForbidden, http.StatusForbidden, ErrForbidden},
		{claude.ErrNotRunning, http.StatusConflict, ErrConflict},
		{fmt.Errorf("wrapped: %w", claude.ErrInvalidMode), http.StatusBadRequest, ErrBadRequest},
		{approval.ErrDuplicateRequest, http.StatusConflict, ErrConflict},
		{approval.ErrInvalidKind, http.StatusBadRequest, ErrBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteServiceError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestSessionHandler_CreateAndList(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionHandler(env.sup, env.gw, nil)

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest("POST", "/api/v1/sessions", "alice",
		map[string]string{"work_dir": t.TempDir(), "mode": claude.ModePlan}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sess claude.Session
	decodeData(t, rec, &sess)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "alice", sess.UserID)
	assert.Equal(t, claude.ModePlan, sess.Mode)
	assert.Equal(t, claude.StatusStopped, sess.Status)

	rec = httptest.NewRecorder()
	h.List(rec, newRequest("GET", "/api/v1/sessions", "alice", nil, nil))
	var list []claude.Session
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	h.List(rec, newRequest("GET", "/api/v1/sessions", "bob", nil, nil))
	decodeData(t, rec, &list)
	assert.Empty(t, list)
}

func TestSessionHandler_Create_BadRequest(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionHandler(env.sup, env.gw, nil)

	bodies := map[string]interface{}{
		"missing work_dir": map[string]string{},
		"not a directory":  map[string]string{"work_dir": "/definitely/not/here"},
		"invalid mode":     map[string]string{"work_dir": t.TempDir(), "mode": "yolo"},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, newRequest("POST", "/api/v1/sessions", "alice", body, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrBadRequest, errorCode(t, rec))
		})
	}
}

func TestSessionHandler_Get_OwnerCheck(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionHandler(env.sup, env.gw, nil)
	sess := env.createSession(t, "alice")

	rec := httptest.NewRecorder()
	h.Get(rec, newRequest("GET", "/", "alice", nil, map[string]string{"id": sess.ID}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Get(rec, newRequest("GET", "/", "bob", nil, map[string]string{"id": sess.ID}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ErrForbidden, errorCode(t, rec))

	rec = httptest.NewRecorder()
	h.Get(rec, newRequest("GET", "/", "alice", nil, map[string]string{"id": "nope"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionHandler(env.sup, env.gw, nil)
	sess := env.createSession(t, "alice")
	vars := map[string]string{"id": sess.ID}

	rec := httptest.NewRecorder()
	h.Start(rec, newRequest("POST", "/", "alice", nil, vars))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got claude.Session
	decodeData(t, rec, &got)
	assert.Equal(t, claude.StatusRunning, got.Status)

	rec = httptest.NewRecorder()
	h.Send(rec, newRequest("POST", "/", "alice", map[string]string{"text": "hello"}, vars))
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Send(rec, newRequest("POST", "/", "alice", map[string]string{"text": "  "}, vars))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Messages(rec, newRequest("GET", "/", "alice", nil, vars))
	var msgs []claude.Message
	decodeData(t, rec, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)

	rec = httptest.NewRecorder()
	h.Usage(rec, newRequest("GET", "/", "alice", nil, vars))
	var usage usageResponse
	decodeData(t, rec, &usage)
	assert.True(t, usage.Running)

	rec = httptest.NewRecorder()
	h.Stop(rec, newRequest("POST", "/", "alice", nil, vars))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &got)
	assert.Equal(t, claude.StatusStopped, got.Status)

	rec = httptest.NewRecorder()
	h.Interrupt(rec, newRequest("POST", "/", "alice", nil, vars))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Delete(rec, newRequest("DELETE", "/", "alice", nil, vars))
	assert.Equal(t, http.StatusOK, rec.Code)
	_, err := env.sup.Session(sess.ID)
	assert.ErrorIs(t, err, claude.ErrSessionNotFound)
}

func TestSessionHandler_Reconnect(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionHandler(env.sup, env.gw, nil)
	sess := env.createSession(t, "alice")
	vars := map[string]string{"id": sess.ID}

	rec := httptest.NewRecorder()
	h.Reconnect(rec, newRequest("POST", "/", "alice", nil, vars))
	require.Equal(t, http.StatusOK, rec.Code)
	var state claude.ReconnectState
	decodeData(t, rec, &state)
	assert.False(t, state.IsRunning)
	assert.Empty(t, state.Events)

	require.NoError(t, env.sup.Send(context.Background(), sess.ID, "hi", nil))
	mark := time.Now()
	require.NoError(t, env.sup.Send(context.Background(), sess.ID, "again", nil))

	rec = httptest.NewRecorder()
	h.Reconnect(rec, newRequest("POST", "/", "alice", map[string]interface{}{"lastTimestamp": mark}, vars))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &state)
	assert.True(t, state.IsRunning)
	assert.Equal(t, claude.StatusRunning, state.Status)

	var texts []string
	for _, ev := range state.Events {
		if ev.Kind == claude.EventUserMessage {
			texts = append(texts, ev.Payload.Text)
		}
	}
	assert.Equal(t, []string{"again"}, texts)

	rec = httptest.NewRecorder()
	h.Disconnect(rec, newRequest("POST", "/", "alice", nil, vars))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionHandler_Approvals(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionHandler(env.sup, env.gw, nil)
	sess := env.createSession(t, "alice")

	_, err := env.gw.Submit(context.Background(), approval.Request{SessionID: sess.ID, ToolName: "Bash"})
	require.NoError(t, err)
	_, err = env.gw.Submit(context.Background(), approval.Request{SessionID: sess.ID, ToolName: "ExitPlanMode"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Approvals(rec, newRequest("GET", "/", "alice", nil, map[string]string{"id": sess.ID}))
	var pending []approval.Action
	decodeData(t, rec, &pending)
	require.Len(t, pending, 2)
	assert.Equal(t, approval.KindPermission, pending[0].Kind)
	assert.Equal(t, approval.KindPlan, pending[1].Kind)
}

type fakeAudit struct {
	entries []approval.AuditEntry
	limit   int
}

func (f *fakeAudit) Audit(_ context.Context, sessionID string, limit int) ([]approval.AuditEntry, error) {
	f.limit = limit
	var out []approval.AuditEntry
	for _, e := range f.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestSessionHandler_Audit(t *testing.T) {
	env := newTestEnv(t)
	sess := env.createSession(t, "alice")
	audit := &fakeAudit{entries: []approval.AuditEntry{
		{RequestID: "r1", SessionID: sess.ID, Kind: approval.KindPermission, Event: "submitted"},
		{RequestID: "r2", SessionID: "other", Kind: approval.KindPermission, Event: "submitted"},
	}}
	h := NewSessionHandler(env.sup, env.gw, audit)

	rec := httptest.NewRecorder()
	h.Audit(rec, newRequest("GET", "/?limit=5", "alice", nil, map[string]string{"id": sess.ID}))
	var entries []approval.AuditEntry
	decodeData(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].RequestID)
	assert.Equal(t, 5, audit.limit)

	rec = httptest.NewRecorder()
	h.Audit(rec, newRequest("GET", "/?limit=x", "alice", nil, map[string]string{"id": sess.ID}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
