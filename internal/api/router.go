// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/warden/internal/api/handlers"
	"github.com/wingedpig/warden/internal/api/middleware"
	"github.com/wingedpig/warden/internal/api/version"
	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/auth"
	"github.com/wingedpig/warden/internal/claude"
	"github.com/wingedpig/warden/internal/events"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host         string
	Port         int
	TLSCert      string // Path to TLS certificate file
	TLSKey       string // Path to TLS private key file
	TailscaleTLS bool   // Fetch certificates from the local tailscaled
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Supervisor *claude.Supervisor
	Gateway    *approval.Gateway
	EventBus   events.EventBus
	Audit      handlers.AuditReader // optional
	Verifier   auth.Verifier        // nil disables authentication
	Version    string
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	verifier := deps.Verifier
	if verifier == nil {
		verifier = auth.Disabled{}
	}

	// Preflight requests only need the CORS middleware to run.
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	healthHandler := handlers.NewHealthHandler(deps.Supervisor, deps.Version)
	r.HandleFunc("/healthz", healthHandler.Healthz).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Satellite helper routes authenticate with the per-process helper token.
	helperHandler := handlers.NewHelperHandler(deps.Supervisor, deps.Gateway)
	helper := api.PathPrefix("/helper").Subrouter()
	helper.HandleFunc("/approvals", helperHandler.Submit).Methods("POST")
	helper.HandleFunc("/approvals/{requestId}", helperHandler.Await).Methods("GET")

	// User routes require a bearer token.
	user := api.NewRoute().Subrouter()
	user.Use(middleware.Auth(verifier))

	sessionHandler := handlers.NewSessionHandler(deps.Supervisor, deps.Gateway, deps.Audit)
	user.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	user.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	user.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	user.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE")
	user.HandleFunc("/sessions/{id}/start", sessionHandler.Start).Methods("POST")
	user.HandleFunc("/sessions/{id}/messages", sessionHandler.Send).Methods("POST")
	user.HandleFunc("/sessions/{id}/messages", sessionHandler.Messages).Methods("GET")
	user.HandleFunc("/sessions/{id}/interrupt", sessionHandler.Interrupt).Methods("POST")
	user.HandleFunc("/sessions/{id}/stop", sessionHandler.Stop).Methods("POST")
	user.HandleFunc("/sessions/{id}/restart", sessionHandler.Restart).Methods("POST")
	user.HandleFunc("/sessions/{id}/reconnect", sessionHandler.Reconnect).Methods("POST")
	user.HandleFunc("/sessions/{id}/disconnect", sessionHandler.Disconnect).Methods("POST")
	user.HandleFunc("/sessions/{id}/usage", sessionHandler.Usage).Methods("GET")
	user.HandleFunc("/sessions/{id}/approvals", sessionHandler.Approvals).Methods("GET")
	user.HandleFunc("/sessions/{id}/audit", sessionHandler.Audit).Methods("GET")
	user.HandleFunc("/sessions/{id}/ws", sessionHandler.WebSocket).Methods("GET")

	approvalHandler := handlers.NewApprovalHandler(deps.Supervisor, deps.Gateway)
	user.HandleFunc("/approvals/{requestId}/respond", approvalHandler.Respond).Methods("POST")

	if deps.EventBus != nil {
		eventHandler := handlers.NewEventHandler(deps.EventBus)
		user.HandleFunc("/events", eventHandler.History).Methods("GET")
		user.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")
	}

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	router := NewRouter(deps)
	return &Server{
		router: router,
		cfg:    cfg,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe starts the server. HTTPS is used when tailscale_tls is set
// or when a certificate and key are configured.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	addr := ln.Addr().String()

	setup, err := configureTLS(s.server, s.cfg)
	if err != nil {
		ln.Close()
		return fmt.Errorf("TLS configuration error: %w", err)
	}
	if setup.enabled {
		log.Printf("API server listening on https://%s (%s)", addr, setup.source)
		return s.server.ServeTLS(ln, setup.certFile, setup.keyFile)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
