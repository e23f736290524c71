// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the HTTP control surface of the streaming session.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/camrelay/internal/api/middleware"
	"github.com/ManuGH/camrelay/internal/health"
	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/orchestrator"
)

// Controller is the session surface driven over HTTP.
type Controller interface {
	Start() error
	Stop() error
	SetRestartEnabled(enabled bool) error
	Session() orchestrator.Session
	Subscribe(fn func(buffering bool)) (unsubscribe func())
}

// Config tunes the HTTP server.
type Config struct {
	Version            string
	RateLimitPerMinute int
	// TracingService enables OpenTelemetry spans under this service name.
	TracingService string
	EnableMetrics  bool
	// EventKeepAlive is the comment interval on the event stream.
	EventKeepAlive time.Duration
}

// Server routes control requests to a Controller.
type Server struct {
	cfg    Config
	ctl    Controller
	health *health.Manager
	logger zerolog.Logger
	router chi.Router

	closeOnce sync.Once
	closing   chan struct{}
}

// New builds the server and its routes.
func New(cfg Config, ctl Controller, hm *health.Manager) *Server {
	if cfg.EventKeepAlive <= 0 {
		cfg.EventKeepAlive = 15 * time.Second
	}
	if hm == nil {
		hm = health.NewManager(cfg.Version)
	}
	s := &Server{
		cfg:     cfg,
		ctl:     ctl,
		health:  hm,
		logger:  log.WithComponent("api"),
		closing: make(chan struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:      s.cfg.EnableMetrics,
		TracingService:     s.cfg.TracingService,
		EnableLogging:      true,
		RateLimitPerMinute: s.cfg.RateLimitPerMinute,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/stream/start", s.handleStart)
		r.Post("/stream/stop", s.handleStop)
		r.Get("/session", s.handleSession)
		r.Put("/session/restart", s.handleSetRestart)
		r.Get("/events", s.handleEvents)
		r.Get("/version", s.handleVersion)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// CloseStreams ends open event streams so a graceful shutdown does not wait
// on them. Safe to call more than once.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
