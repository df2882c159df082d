// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/warden/internal/api/handlers"
	"github.com/wingedpig/warden/internal/auth"
)

// Auth verifies the request's bearer token and stores the user id in the
// request context. Requests without a valid token get a 401 envelope.
func Auth(v auth.Verifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := v.Verify(auth.TokenFromRequest(r))
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "missing bearer token"
				}
				slog.Debug("api: rejected token", "path", r.URL.Path, "error", err)
				handlers.WriteError(w, http.StatusUnauthorized, handlers.ErrUnauthorized, msg)
				return
			}
			if us, ok := w.(userSetter); ok {
				us.setUser(userID)
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
		})
	}
}
