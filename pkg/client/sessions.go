// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// SessionClient provides access to session endpoints.
type SessionClient struct {
	c *Client
}

func sessionPath(id string, parts ...string) string {
	p := "/api/v1/sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// List returns the caller's sessions.
func (s *SessionClient) List(ctx context.Context) ([]Session, error) {
	data, err := s.c.get(ctx, "/api/v1/sessions")
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := decode(data, &sessions, "sessions"); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Get returns a session by id.
func (s *SessionClient) Get(ctx context.Context, id string) (*Session, error) {
	return s.session(s.c.get(ctx, sessionPath(id)))
}

// Create creates a stopped session.
func (s *SessionClient) Create(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	return s.session(s.c.postJSON(ctx, "/api/v1/sessions", req))
}

// Delete stops a session's process and removes the session.
func (s *SessionClient) Delete(ctx context.Context, id string) error {
	_, err := s.c.delete(ctx, sessionPath(id))
	return err
}

// Start launches the session's process. Starting a running session is a
// no-op.
func (s *SessionClient) Start(ctx context.Context, id string) (*Session, error) {
	return s.session(s.c.post(ctx, sessionPath(id, "start")))
}

// Stop stops the session's process.
func (s *SessionClient) Stop(ctx context.Context, id string) (*Session, error) {
	return s.session(s.c.post(ctx, sessionPath(id, "stop")))
}

// Restart stops the process and starts a fresh one.
func (s *SessionClient) Restart(ctx context.Context, id string) (*Session, error) {
	return s.session(s.c.post(ctx, sessionPath(id, "restart")))
}

// Send delivers a user message, starting the process if needed.
func (s *SessionClient) Send(ctx context.Context, id, text string, attachments []Attachment) error {
	body := struct {
		Text        string       `json:"text"`
		Attachments []Attachment `json:"attachments,omitempty"`
	}{Text: text, Attachments: attachments}
	_, err := s.c.postJSON(ctx, sessionPath(id, "messages"), body)
	return err
}

// Interrupt asks the running process to abandon its current turn.
func (s *SessionClient) Interrupt(ctx context.Context, id string) error {
	_, err := s.c.post(ctx, sessionPath(id, "interrupt"))
	return err
}

// Reconnect returns the buffered events newer than since along with the
// process state. A zero since replays the whole buffer.
func (s *SessionClient) Reconnect(ctx context.Context, id string, since time.Time) (*ReconnectState, error) {
	body := struct {
		LastTimestamp *time.Time `json:"lastTimestamp,omitempty"`
	}{}
	if !since.IsZero() {
		body.LastTimestamp = &since
	}
	data, err := s.c.postJSON(ctx, sessionPath(id, "reconnect"), body)
	if err != nil {
		return nil, err
	}
	var state ReconnectState
	if err := decode(data, &state, "reconnect state"); err != nil {
		return nil, err
	}
	return &state, nil
}

// Disconnect marks the session as having no attached client, starting its
// idle clock.
func (s *SessionClient) Disconnect(ctx context.Context, id string) error {
	_, err := s.c.post(ctx, sessionPath(id, "disconnect"))
	return err
}

// Messages returns the session's stored conversation.
func (s *SessionClient) Messages(ctx context.Context, id string) ([]Message, error) {
	data, err := s.c.get(ctx, sessionPath(id, "messages"))
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := decode(data, &msgs, "messages"); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Usage returns the running process's usage.
func (s *SessionClient) Usage(ctx context.Context, id string) (*UsageStatus, error) {
	data, err := s.c.get(ctx, sessionPath(id, "usage"))
	if err != nil {
		return nil, err
	}
	var u UsageStatus
	if err := decode(data, &u, "usage"); err != nil {
		return nil, err
	}
	return &u, nil
}

// Approvals returns the session's pending approval requests, oldest first.
func (s *SessionClient) Approvals(ctx context.Context, id string) ([]Action, error) {
	data, err := s.c.get(ctx, sessionPath(id, "approvals"))
	if err != nil {
		return nil, err
	}
	var actions []Action
	if err := decode(data, &actions, "approvals"); err != nil {
		return nil, err
	}
	return actions, nil
}

// Audit returns up to limit of the session's most recent audit entries.
// A limit of zero uses the server default.
func (s *SessionClient) Audit(ctx context.Context, id string, limit int) ([]AuditEntry, error) {
	path := sessionPath(id, "audit")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	data, err := s.c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var entries []AuditEntry
	if err := decode(data, &entries, "audit"); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SessionClient) session(data json.RawMessage, err error) (*Session, error) {
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &sess, nil
}
