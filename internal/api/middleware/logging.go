// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// accessWriter wraps http.ResponseWriter to collect what the access log
// reports: status, body size, the authenticated user and whether the
// connection was taken over by a WebSocket upgrade.
type accessWriter struct {
	http.ResponseWriter
	status   int
	size     int
	user     string
	hijacked bool
}

func newAccessWriter(w http.ResponseWriter) *accessWriter {
	return &accessWriter{ResponseWriter: w, status: http.StatusOK, user: "-"}
}

func (aw *accessWriter) WriteHeader(status int) {
	aw.status = status
	aw.ResponseWriter.WriteHeader(status)
}

func (aw *accessWriter) Write(b []byte) (int, error) {
	n, err := aw.ResponseWriter.Write(b)
	aw.size += n
	return n, err
}

// Hijack implements http.Hijacker for WebSocket support.
func (aw *accessWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := aw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		aw.hijacked = true
		aw.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Flush implements http.Flusher.
func (aw *accessWriter) Flush() {
	if f, ok := aw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (aw *accessWriter) setUser(id string) { aw.user = id }

// line formats one access log entry. WebSocket requests report how long the
// socket stayed open rather than a body size.
func (aw *accessWriter) line(r *http.Request, elapsed time.Duration) string {
	if aw.hijacked {
		return fmt.Sprintf("%s %s %d ws %s user=%s", r.Method, r.URL.Path, aw.status, elapsed, aw.user)
	}
	return fmt.Sprintf("%s %s %d %d %s user=%s", r.Method, r.URL.Path, aw.status, aw.size, elapsed, aw.user)
}

// userSetter is implemented by writers that record the caller's identity.
type userSetter interface {
	setUser(id string)
}

// Logging is middleware that writes one access log line per request,
// attributed to the user Auth resolved, or "-" when none was.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		aw := newAccessWriter(w)
		next.ServeHTTP(aw, r)
		log.Print(aw.line(r, time.Since(start)))
	})
}
