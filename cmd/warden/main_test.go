// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/warden/pkg/client"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// helperServer answers helper submissions with res and records the request.
func helperServer(t *testing.T, res client.Resolution, got *client.ApprovalRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get(client.HelperTokenHeader))
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/helper/approvals":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
			writeData(w, http.StatusCreated, map[string]string{"requestId": "r1"})
		case r.Method == "GET" && r.URL.Path == "/api/v1/helper/approvals/r1":
			writeData(w, http.StatusOK, res)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	t.Setenv(client.EnvURL, srv.URL)
	t.Setenv(client.EnvSessionID, "s1")
	t.Setenv(client.EnvHelperToken, "tok")
	return srv
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if err != nil {
		return 1
	}
	return exitAllow
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "warden "+version+"\n", out)
}

func TestBuildApprovalRequest(t *testing.T) {
	t.Run("hook event", func(t *testing.T) {
		in := `{"session_id":"agent-1","hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"make test"}}`
		req, hook, err := buildApprovalRequest([]byte(in), client.KindPermission, "")
		require.NoError(t, err)
		require.NotNil(t, hook)
		assert.Equal(t, "Bash", req.ToolName)
		assert.JSONEq(t, `{"command":"make test"}`, string(req.Payload))
	})

	t.Run("raw payload", func(t *testing.T) {
		req, hook, err := buildApprovalRequest([]byte(`{"message":"fix bug"}`), client.KindCommit, "")
		require.NoError(t, err)
		assert.Nil(t, hook)
		assert.Equal(t, client.KindCommit, req.Kind)
		assert.JSONEq(t, `{"message":"fix bug"}`, string(req.Payload))
	})

	t.Run("empty stdin", func(t *testing.T) {
		req, hook, err := buildApprovalRequest([]byte("  \n"), client.KindPermission, "Deploy")
		require.NoError(t, err)
		assert.Nil(t, hook)
		assert.Equal(t, "Deploy", req.ToolName)
		assert.Nil(t, req.Payload)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, _, err := buildApprovalRequest([]byte("not json"), client.KindPermission, "")
		assert.Error(t, err)
	})
}

func TestApproveCmd_HookAllowed(t *testing.T) {
	var got client.ApprovalRequest
	helperServer(t, client.Resolution{Approved: true}, &got)

	in := `{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"ls"}}`
	out, err := execute(t, in, "approve")
	require.NoError(t, err)

	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "Bash", got.ToolName)

	var decoded hookOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "allow", decoded.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, "PreToolUse", decoded.HookSpecificOutput.HookEventName)
}

func TestApproveCmd_Denied(t *testing.T) {
	var got client.ApprovalRequest
	helperServer(t, client.Resolution{Approved: false, Reason: "not today"}, &got)

	out, err := execute(t, `{"message":"wip"}`, "approve", "--kind", "commit", "--timeout", "30s")
	assert.Equal(t, exitDeny, exitCode(err))
	assert.Equal(t, "not today", err.Error())
	assert.Equal(t, client.KindCommit, got.Kind)

	var res client.Resolution
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Approved)
}

func TestApproveCmd_MissingEnvDenies(t *testing.T) {
	t.Setenv(client.EnvURL, "")
	t.Setenv(client.EnvSessionID, "")
	t.Setenv(client.EnvHelperToken, "")

	_, err := execute(t, "", "approve")
	assert.Equal(t, exitDeny, exitCode(err))
}

func TestApproveCmd_UnreachableDenies(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	t.Setenv(client.EnvURL, srv.URL)
	t.Setenv(client.EnvSessionID, "s1")
	t.Setenv(client.EnvHelperToken, "tok")

	out, err := execute(t, `{"tool_name":"Bash","tool_input":{}}`, "approve")
	assert.Equal(t, exitDeny, exitCode(err))
	assert.Contains(t, out, `"deny"`)
}

func TestRespondCmd(t *testing.T) {
	var got client.Resolution
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/approvals/r1/respond", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeData(w, http.StatusOK, client.RespondResult{
			RequestID: "r1",
			Status:    client.ActionResolved,
			Action:    &client.Action{RequestID: "r1", Status: client.ActionResolved, Resolution: &got},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "", "--url", srv.URL, "--token", "secret",
		"respond", "r1", "--allow", "--pattern", "Bash(make:*)", "--scope", "session", "--answer", "Which db?=postgres")
	require.NoError(t, err)
	assert.Equal(t, "Approved r1\n", out)

	assert.True(t, got.Approved)
	assert.Equal(t, "Bash(make:*)", got.Pattern)
	assert.Equal(t, client.ScopeSession, got.Scope)
	assert.Equal(t, map[string]string{"Which db?": "postgres"}, got.Answers)
}

func TestRespondCmd_RequiresDecision(t *testing.T) {
	_, err := execute(t, "", "--url", "http://127.0.0.1:1", "respond", "r1")
	assert.Error(t, err)

	_, err = execute(t, "", "--url", "http://127.0.0.1:1", "respond", "r1", "--allow", "--deny")
	assert.Error(t, err)

	_, err = execute(t, "", "--url", "http://127.0.0.1:1", "respond", "r1", "--allow", "--answer", "no-equals")
	assert.ErrorContains(t, err, "invalid --answer")
}

func TestRespondCmd_Unknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		writeData(w, http.StatusOK, client.RespondResult{RequestID: "gone", Status: "unknown"})
	}))
	defer srv.Close()

	_, err := execute(t, "", "--url", srv.URL, "respond", "gone", "--deny")
	assert.ErrorContains(t, err, "no pending request")
}

func TestPendingCmd(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sessions":
			writeData(w, http.StatusOK, []client.Session{{ID: "s1"}, {ID: "s2"}})
		case "/api/v1/sessions/s1/approvals":
			writeData(w, http.StatusOK, []client.Action{{
				RequestID: "r-plan", SessionID: "s1", Kind: client.KindPlan, ToolName: "ExitPlanMode",
				Payload:   json.RawMessage(`{"plan":"# Refactor\n\n1. Split the parser"}`),
				Status:    client.ActionPending, CreatedAt: now.Add(-time.Minute),
			}})
		case "/api/v1/sessions/s2/approvals":
			writeData(w, http.StatusOK, []client.Action{{
				RequestID: "r-bash", SessionID: "s2", Kind: client.KindPermission, ToolName: "Bash",
				Payload:   json.RawMessage(`{"command":"rm -rf build"}`),
				Status:    client.ActionPending, CreatedAt: now.Add(-2 * time.Minute),
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := execute(t, "", "--url", srv.URL, "pending")
	require.NoError(t, err)

	assert.Contains(t, out, "Refactor")
	assert.Contains(t, out, "Split the parser")
	assert.Contains(t, out, "$ rm -rf build")
	// Oldest first across sessions.
	assert.Less(t, strings.Index(out, "r-bash"), strings.Index(out, "r-plan"))

	out, err = execute(t, "", "--url", srv.URL, "--json", "pending", "s1")
	require.NoError(t, err)
	var actions []client.Action
	require.NoError(t, json.Unmarshal([]byte(out), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "r-plan", actions[0].RequestID)
}

func TestPendingCmd_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, []client.Action{})
	}))
	defer srv.Close()

	out, err := execute(t, "", "--url", srv.URL, "pending", "s1")
	require.NoError(t, err)
	assert.Equal(t, "No pending approvals\n", out)
}

func TestEventsCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.URL.Query().Get("session"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeData(w, http.StatusOK, []client.Event{{
			Type: "approval.resolved", Session: "s1", Timestamp: time.Now(),
			Payload: map[string]interface{}{"outcome": "approved", "kind": "permission"},
		}})
	}))
	defer srv.Close()

	out, err := execute(t, "", "--url", srv.URL, "events", "-n", "5", "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "approval.resolved")
	assert.Contains(t, out, "kind=permission outcome=approved")
}

func TestActionBody(t *testing.T) {
	q := client.Action{
		Kind:    client.KindQuestion,
		Payload: json.RawMessage(`{"questions":[{"question":"Which db?","options":[{"label":"postgres"},{"label":"sqlite","description":"embedded"}]}]}`),
	}
	body := actionBody(q)
	assert.Contains(t, body, "Which db?")
	assert.Contains(t, body, "- postgres")
	assert.Contains(t, body, "- sqlite")

	commit := client.Action{Kind: client.KindCommit, Payload: json.RawMessage(`{"message":"fix","files":["a.go"]}`)}
	assert.Contains(t, actionBody(commit), "a.go")

	other := client.Action{Kind: client.KindPermission, Payload: json.RawMessage(`{ "url": "https://x" }`)}
	assert.Equal(t, `  {"url":"https://x"}`, actionBody(other))
}
