// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/claude"
)

// Headers satellite helpers authenticate with. The values come from the
// environment the supervisor gives each agent process.
const (
	HelperTokenHeader   = "X-Warden-Helper-Token"
	HelperSessionHeader = "X-Warden-Session-Id"
)


// HelperHandler serves approval requests from satellite helper processes
// running inside an agent's session.
type HelperHandler struct {
	sup *claude.Supervisor
	gw  *approval.Gateway
}

// NewHelperHandler creates a new helper handler.
func NewHelperHandler(sup *claude.Supervisor, gw *approval.Gateway) *HelperHandler {
	return &HelperHandler{sup: sup, gw: gw}
}

type submitResult struct {
	RequestID string `json:"requestId"`
}

// Submit files an approval request without waiting for the decision.
func (h *HelperHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req approval.Request
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get(HelperSessionHeader)
	}
	if req.SessionID == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "session_id is required")
		return
	}
	if !h.authorize(w, r, req.SessionID) {
		return
	}

	id, err := h.gw.Submit(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, submitResult{RequestID: id})
}

// Await long-polls for the decision on a request. The wait defaults to the
// gateway's timeout for the request's kind and never exceeds the gateway's
// longest timeout. A request that times out is denied.
func (h *HelperHandler) Await(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]

	var timeout time.Duration
	if s := r.URL.Query().Get("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}

	action, ok := h.gw.Get(requestID)
	if !ok {
		WriteJSON(w, http.StatusOK, approval.Resolution{Approved: false, Reason: "unknown request"})
		return
	}
	if !h.authorize(w, r, action.SessionID) {
		return
	}
	if timeout == 0 {
		timeout = h.gw.TimeoutFor(action.Kind)
	}
	timeout = min(timeout, h.gw.MaxWait())

	res, err := h.gw.Await(r.Context(), requestID, timeout)
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			// Poller went away; the request stays pending.
			return
		}
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *HelperHandler) authorize(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if err := h.sup.AuthorizeHelper(sessionID, r.Header.Get(HelperTokenHeader)); err != nil {
		WriteServiceError(w, err)
		return false
	}
	return true
}
