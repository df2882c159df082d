// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/wingedpig/warden/internal/claude"
)

// HealthHandler reports liveness.
type HealthHandler struct {
	sup     *claude.Supervisor
	version string
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sup *claude.Supervisor, version string) *HealthHandler {
	return &HealthHandler{sup: sup, version: version, started: time.Now()}
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
	Running  int    `json:"running"`
}

// Healthz returns server status and session counts.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	for _, s := range h.sup.ListSessions("") {
		resp.Sessions++
		if s.Status == claude.StatusRunning {
			resp.Running++
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}
