// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/auth"
	"github.com/wingedpig/warden/internal/claude"
)

// AuditReader reads the approval audit trail of a session.
type AuditReader interface {
	Audit(ctx context.Context, sessionID string, limit int) ([]approval.AuditEntry, error)
}

// SessionHandler handles session lifecycle API requests.
type SessionHandler struct {
	sup   *claude.Supervisor
	gw    *approval.Gateway
	audit AuditReader
	conns connTracker
}

// NewSessionHandler creates a new session handler. audit may be nil.
func NewSessionHandler(sup *claude.Supervisor, gw *approval.Gateway, audit AuditReader) *SessionHandler {
	return &SessionHandler{sup: sup, gw: gw, audit: audit}
}

type createSessionRequest struct {
	WorkDir string `json:"work_dir"`
	Model   string `json:"model"`
	Mode    string `json:"mode"`
}

type sendMessageRequest struct {
	Text        string              `json:"text"`
	Attachments []claude.Attachment `json:"attachments"`
}

type reconnectRequest struct {
	LastTimestamp *time.Time `json:"lastTimestamp"`
}

type usageResponse struct {
	Running bool                  `json:"running"`
	Usage   *claude.UsageSnapshot `json:"usage,omitempty"`
}

// currentUser returns the authenticated caller, or the local user when the
// router runs without authentication.
func currentUser(r *http.Request) string {
	if id, ok := auth.UserFrom(r.Context()); ok {
		return id
	}
	return auth.LocalUser
}

// authorize resolves the {id} route variable and checks that the caller
// owns it. It writes the error response and returns false on failure.
func (h *SessionHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := h.sup.Authorize(id, currentUser(r)); err != nil {
		WriteServiceError(w, err)
		return "", false
	}
	return id, true
}

// Create registers a new stopped session owned by the caller.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	req.WorkDir = strings.TrimSpace(req.WorkDir)
	if req.WorkDir == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "work_dir is required")
		return
	}
	if info, err := os.Stat(req.WorkDir); err != nil || !info.IsDir() {
		WriteErrorWithDetails(w, http.StatusBadRequest, ErrBadRequest, "work_dir is not a directory",
			map[string]interface{}{"work_dir": req.WorkDir})
		return
	}

	sess, err := h.sup.CreateSession(r.Context(), currentUser(r), req.WorkDir, req.Model, req.Mode)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sess)
}

// List returns the caller's sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.sup.ListSessions(currentUser(r))
	if sessions == nil {
		sessions = []claude.Session{}
	}
	WriteJSON(w, http.StatusOK, sessions)
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	h.writeSession(w, id)
}

// Delete stops the session's process and forgets the session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.sup.DeleteSession(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// Start spawns the session's process.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.sup.Start(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	h.writeSession(w, id)
}

// Send delivers a user turn. The reply streams over the session websocket.
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	if err := h.sup.Send(r.Context(), id, req.Text, req.Attachments); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "sent"})
}

// Interrupt stops the turn in progress.
func (h *SessionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.sup.Interrupt(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "interrupted"})
}

// Stop ends the session's process.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.sup.Stop(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	h.writeSession(w, id)
}

// Restart stops the process and starts a fresh conversation.
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.sup.Restart(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	h.writeSession(w, id)
}

// Reconnect returns the events a client missed since lastTimestamp along
// with the session's live state.
func (h *SessionHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req reconnectRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	var since time.Time
	if req.LastTimestamp != nil {
		since = *req.LastTimestamp
	}
	state, err := h.sup.Reconnect(id, since)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// Disconnect marks the session's client as gone so the idle sweep can
// reclaim its process.
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	h.sup.MarkDisconnected(id)
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "disconnected"})
}

// Messages returns the persisted chat history.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	msgs, err := h.sup.Messages(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []claude.Message{}
	}
	WriteJSON(w, http.StatusOK, msgs)
}

// Usage returns token and cost counters of the running process.
func (h *SessionHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	snap, running := h.sup.Usage(id)
	resp := usageResponse{Running: running}
	if running {
		resp.Usage = &snap
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Approvals lists the session's pending approvals in submission order.
func (h *SessionHandler) Approvals(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.gw.Pending(id))
}

// Audit returns the session's approval audit trail.
func (h *SessionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if h.audit == nil {
		WriteJSON(w, http.StatusOK, []approval.AuditEntry{})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.audit.Audit(r.Context(), id, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []approval.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

func (h *SessionHandler) writeSession(w http.ResponseWriter, id string) {
	sess, err := h.sup.Session(id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}
