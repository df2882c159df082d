// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/claude"
)

// ApprovalHandler handles human responses to pending approvals.
type ApprovalHandler struct {
	sup *claude.Supervisor
	gw  *approval.Gateway
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(sup *claude.Supervisor, gw *approval.Gateway) *ApprovalHandler {
	return &ApprovalHandler{sup: sup, gw: gw}
}

type respondResult struct {
	RequestID string           `json:"request_id"`
	Status    string           `json:"status"`
	Action    *approval.Action `json:"action,omitempty"`
}

// Respond resolves a pending approval. Unknown and already resolved
// requests succeed without effect.
func (h *ApprovalHandler) Respond(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]

	var res approval.Resolution
	if err := decodeBody(r, &res); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	if res.Scope != approval.ScopeOnce && res.Scope != approval.ScopeSession && res.Scope != approval.ScopeAlways {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "scope must be session or always")
		return
	}

	action, ok := h.gw.Get(requestID)
	if !ok {
		WriteJSON(w, http.StatusOK, respondResult{RequestID: requestID, Status: "unknown"})
		return
	}
	if err := h.sup.Authorize(action.SessionID, currentUser(r)); err != nil {
		WriteServiceError(w, err)
		return
	}
	if action.Status != approval.StatusPending {
		WriteJSON(w, http.StatusOK, respondResult{RequestID: requestID, Status: string(action.Status), Action: &action})
		return
	}

	if err := h.gw.Respond(r.Context(), requestID, res); err != nil {
		WriteServiceError(w, err)
		return
	}
	result := respondResult{RequestID: requestID, Status: string(approval.StatusResolved)}
	if updated, ok := h.gw.Get(requestID); ok {
		result.Action = &updated
	}
	WriteJSON(w, http.StatusOK, result)
}
