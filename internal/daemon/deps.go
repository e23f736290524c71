// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ServerConfig holds listener and timeout settings for the HTTP servers.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	// WriteTimeout stays zero by default so event streams are not cut off.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the timeouts used for the control API.
func DefaultServerConfig(listen string, shutdown time.Duration) ServerConfig {
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return ServerConfig{
		ListenAddr:      listen,
		ReadTimeout:     10 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: shutdown,
	}
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	Logger zerolog.Logger

	// APIHandler is the HTTP handler for the control API.
	APIHandler    http.Handler
	// OnAPIShutdown runs when the API server begins shutting down, before
	// it waits for in-flight requests.
	OnAPIShutdown func()

	// MetricsHandler and MetricsAddr enable the Prometheus listener.
	MetricsHandler http.Handler
	MetricsAddr    string
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
