// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the supervisor, the approval gateway, the stores and
// the API server into a running warden.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/warden/internal/api"
	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/auth"
	"github.com/wingedpig/warden/internal/claude"
	"github.com/wingedpig/warden/internal/config"
	"github.com/wingedpig/warden/internal/events"
	"github.com/wingedpig/warden/internal/logging"
	"github.com/wingedpig/warden/internal/metrics"
	"github.com/wingedpig/warden/internal/store"
	"github.com/wingedpig/warden/internal/watcher"
)

// Store file names under config.Store.Dir.
const (
	sessionDBName = "warden.db"
	auditDBName   = "audit.db"
)

// App is the main application container.
type App struct {
	mu sync.Mutex

	configPath string
	version    string
	config     *config.Config

	eventBus   *events.MemoryEventBus
	sessions   *store.BoltStore
	audit      *store.SQLiteStore
	metrics    *metrics.Provider
	gateway    *approval.Gateway
	supervisor *claude.Supervisor
	apiServer  *api.Server
	listener   net.Listener
	cfgWatcher *watcher.ConfigWatcher

	cancel context.CancelFunc
	group  *errgroup.Group

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string    // Application version string
	LogOutput  io.Writer // Defaults to stderr
}

// New loads and validates configuration and installs the logger.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	// Load configuration
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Debug {
		cfg.Logging.Level = "debug"
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app.config = cfg

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, out)

	// Initialize event bus
	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	return app, nil
}

// Config returns the active configuration.
func (app *App) Config() *config.Config {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.config
}

// Addr returns the address the API server listens on once initialized.
func (app *App) Addr() string {
	if app.listener == nil {
		return ""
	}
	return app.listener.Addr().String()
}

// Supervisor returns the session supervisor once initialized.
func (app *App) Supervisor() *claude.Supervisor { return app.supervisor }

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	if err := os.MkdirAll(cfg.Store.Dir, 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	log.Printf("Using store directory: %s", cfg.Store.Dir)

	sessions, err := store.OpenBolt(filepath.Join(cfg.Store.Dir, sessionDBName))
	if err != nil {
		return err
	}
	app.sessions = sessions

	audit, err := store.OpenSQLite(filepath.Join(cfg.Store.Dir, auditDBName))
	if err != nil {
		return err
	}
	app.audit = audit

	provider, err := metrics.Setup(ctx, metrics.Config{
		Endpoint:       cfg.Metrics.OTLPEndpoint,
		Insecure:       cfg.Metrics.Insecure,
		Interval:       config.ParseDuration(cfg.Metrics.Interval, time.Minute),
		ServiceVersion: app.version,
	})
	if err != nil {
		return err
	}
	app.metrics = provider
	meters, err := metrics.New(provider.MeterProvider())
	if err != nil {
		return err
	}
	if err := meters.ObserveBus(app.eventBus.Stats); err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		JWKSURL:  cfg.Auth.JWKSURL,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}
	if !cfg.Auth.Enabled() {
		log.Printf("Authentication disabled; all sessions belong to %q", auth.LocalUser)
	}

	// Bind before building the supervisor so agents learn the real port.
	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	app.listener = ln

	// The gateway needs the supervisor for event ownership and the
	// supervisor needs the gateway for prompts; sup is set right after.
	var sup *claude.Supervisor
	app.gateway = approval.NewGateway(approval.NewQueue(), approval.GatewayConfig{
		Timeout:       config.ParseDuration(cfg.Approvals.Timeout, approval.DefaultTimeout),
		ReviewTimeout: config.ParseDuration(cfg.Approvals.ReviewTimeout, approval.DefaultReviewTimeout),
		MaxAge:        config.ParseDuration(cfg.Approvals.MaxAge, approval.DefaultMaxAge),
		GCInterval:    config.ParseDuration(cfg.Approvals.GCInterval, approval.DefaultGCInterval),
		Rules:         audit,
		Audit:         audit,
		Bus:           app.eventBus,
		Recorder:      meters,
		Owner: func(sessionID string) string {
			if sup == nil {
				return ""
			}
			return sup.Owner(sessionID)
		},
	})

	sup = claude.NewSupervisor(claude.Config{
		Command:       cfg.Agent.Command,
		BaseURL:       baseURL(cfg, ln.Addr()),
		Env:           agentEnv(cfg.Agent.Env),
		BufferSize:    cfg.Agent.BufferSize,
		StopGrace:     config.ParseDuration(cfg.Agent.StopGrace, 5*time.Second),
		MaxIdle:       config.ParseDuration(cfg.Agent.MaxIdle, claude.DefaultMaxIdle),
		SweepInterval: config.ParseDuration(cfg.Agent.SweepInterval, claude.DefaultSweepInterval),
	}, claude.Deps{
		Store:     sessions,
		Approvals: app.gateway,
		Bus:       app.eventBus,
		Recorder:  meters,
	})
	app.gateway.Queue().OnHeadChange(sup.NotifyApproval)
	app.supervisor = sup

	if err := sup.Load(ctx); err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	// Initialize API server
	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			TLSCert:      cfg.Server.TLSCert,
			TLSKey:       cfg.Server.TLSKey,
			TailscaleTLS: cfg.Server.TailscaleTLS,
		},
		api.Dependencies{
			Supervisor: sup,
			Gateway:    app.gateway,
			EventBus:   app.eventBus,
			Audit:      audit,
			Verifier:   verifier,
			Version:    app.version,
		},
	)

	return nil
}

// baseURL is the address agent processes use to reach the helper routes.
func baseURL(cfg *config.Config, addr net.Addr) string {
	if cfg.Server.BaseURL != "" {
		return cfg.Server.BaseURL
	}
	scheme := "http"
	if cfg.Server.TailscaleTLS || cfg.Server.TLSCert != "" {
		scheme = "https"
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port := strconv.Itoa(cfg.Server.Port)
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}

func agentEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Start starts the background loops, the API server and the config watcher.
func (app *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	app.group = g
	g.Go(func() error {
		app.gateway.Run(gctx)
		return nil
	})
	g.Go(func() error {
		app.supervisor.Run(gctx)
		return nil
	})

	// Start API server in background
	go func() {
		if err := app.apiServer.Serve(app.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
			app.Stop()
		}
	}()

	if app.configPath != "" && !app.config.Watch.Disabled {
		w, err := watcher.NewConfigWatcher(app.configPath,
			config.ParseDuration(app.config.Watch.Debounce, 100*time.Millisecond),
			func(string) { app.Reload(context.Background()) })
		if err != nil {
			log.Printf("Warning: config hot reload disabled: %v", err)
		} else {
			app.cfgWatcher = w
		}
	}

	return nil
}

// Reload re-reads the config file and applies the settings that can change
// without a restart: log level, approval timeouts, idle limit and watch
// debounce. An invalid file leaves the running config in place.
func (app *App) Reload(ctx context.Context) error {
	if app.configPath == "" {
		return nil
	}
	cfg, err := config.NewLoader().LoadWithDefaults(ctx, app.configPath)
	if err == nil {
		err = config.NewValidator().Validate(cfg)
	}
	if err != nil {
		slog.Warn("config reload rejected", "path", app.configPath, "error", err)
		return err
	}

	app.mu.Lock()
	prev := app.config
	// Listener, stores and auth are fixed for the life of the process.
	cfg.Server = prev.Server
	cfg.Store = prev.Store
	cfg.Auth = prev.Auth
	app.config = cfg
	app.mu.Unlock()

	logging.SetLevel(cfg.Logging.Level)
	app.gateway.SetTimeouts(
		config.ParseDuration(cfg.Approvals.Timeout, approval.DefaultTimeout),
		config.ParseDuration(cfg.Approvals.ReviewTimeout, approval.DefaultReviewTimeout),
		config.ParseDuration(cfg.Approvals.MaxAge, approval.DefaultMaxAge),
	)
	app.supervisor.SetMaxIdle(config.ParseDuration(cfg.Agent.MaxIdle, claude.DefaultMaxIdle))
	if app.cfgWatcher != nil {
		app.cfgWatcher.SetDebounce(config.ParseDuration(cfg.Watch.Debounce, 100*time.Millisecond))
	}

	slog.Info("config reloaded", "path", app.configPath, "log_level", cfg.Logging.Level)
	if err := app.eventBus.Publish(ctx, events.Event{
		Type: events.EventConfigReloaded,
		Payload: map[string]interface{}{
			"path": app.configPath,
		},
	}); err != nil {
		slog.Debug("bus publish failed", "type", events.EventConfigReloaded, "error", err)
	}
	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		app.Shutdown(context.Background())
		return err
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown(context.Background())
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components. Components that were never
// initialized are skipped.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("Shutting down...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error

	if app.cfgWatcher != nil {
		app.cfgWatcher.Close()
	}

	// Stop API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}
	if app.listener != nil {
		// Already closed if the server was serving.
		app.listener.Close()
	}

	// Stop agent processes while the gateway can still answer their prompts.
	if app.supervisor != nil {
		if err := app.supervisor.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	}

	if app.cancel != nil {
		app.cancel()
		app.group.Wait()
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}
	if app.metrics != nil {
		if err := app.metrics.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if app.audit != nil {
		if err := app.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit store: %w", err))
		}
	}
	if app.sessions != nil {
		if err := app.sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session store: %w", err))
		}
	}

	log.Println("Shutdown complete")
	return errors.Join(errs...)
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
