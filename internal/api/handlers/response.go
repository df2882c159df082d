// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/claude"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Meta  *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

// Common error codes
const (
	ErrNotFound      = "NOT_FOUND"
	ErrBadRequest    = "BAD_REQUEST"
	ErrInternalError = "INTERNAL_ERROR"
	ErrConflict      = "CONFLICT"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrForbidden     = "FORBIDDEN"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := Response{
		Data: data,
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	resp := Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteErrorWithDetails writes an error response with details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	resp := Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteServiceError maps a supervisor or gateway error to a status and code.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, claude.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, claude.ErrForbidden):
		WriteError(w, http.StatusForbidden, ErrForbidden, err.Error())
	case errors.Is(err, claude.ErrNotRunning):
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
	case errors.Is(err, approval.ErrDuplicateRequest):
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
	case errors.Is(err, claude.ErrInvalidMode),
		errors.Is(err, claude.ErrEmptyMessage),
		errors.Is(err, approval.ErrInvalidKind),
		errors.Is(err, approval.ErrMissingSession),
		errors.Is(err, approval.ErrUnknownRequest):
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
	default:
		slog.Error("api: internal error", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
	}
}

// decodeBody decodes an optional JSON request body into v. An empty body
// leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
