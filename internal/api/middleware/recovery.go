// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/wingedpig/warden/internal/api/handlers"
)

// Recovery is middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("api: panic recovered", "method", r.Method, "path", r.URL.Path,
					"panic", err, "stack", string(debug.Stack()))
				handlers.WriteError(w, http.StatusInternalServerError, handlers.ErrInternalError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
