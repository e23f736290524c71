// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package camera implements the HTTP control client for the camera's
// media-request endpoints.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/resilience"
	"github.com/ManuGH/camrelay/internal/telemetry"
)

const (
	OpStreamStart = "stream/start"
	OpStreamStop  = "stream/stop"
	OpShutterStop = "shutter/stop"
	OpWiredUSB    = "control/wired_usb"
)

// DefaultBaseURL is the camera's control endpoint on its own Wi-Fi network.
const DefaultBaseURL = "http://10.5.5.9:8080/gopro/camera"

const (
	defaultTimeout          = 10 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultRateLimit        = 5
	defaultRateLimitBurst   = 5
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 15 * time.Second
	defaultShutterSettle    = 2 * time.Second
	maxBodyDrain            = 64 << 10
)

// Options configures the camera client.
type Options struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	UserAgent      string

	RateLimit      rate.Limit
	RateLimitBurst int

	BreakerThreshold int
	BreakerReset     time.Duration

	// StopShutterBeforeStart issues shutter/stop and waits ShutterSettle
	// before every stream/start.
	StopShutterBeforeStart bool
	ShutterSettle          time.Duration

	// LocalAddr binds outgoing connections to a local address, used to pin
	// requests to the camera's USB network interface.
	LocalAddr net.IP
}

// Client talks to the camera's control endpoint. Each Client owns its HTTP
// client and connection pool; Close releases idle connections.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	opts       Options
	logger     zerolog.Logger
}

// NewClient creates a camera client for baseURL (e.g. DefaultBaseURL).
func NewClient(baseURL string, opts Options) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	nopts := normalizeOptions(opts)

	dialer := &net.Dialer{Timeout: nopts.ConnectTimeout}
	if nopts.LocalAddr != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: nopts.LocalAddr}
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: nopts.Timeout,
	}

	return &Client{
		baseURL: trimmed,
		httpClient: &http.Client{
			Timeout:   nopts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter: rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		breaker: resilience.NewCircuitBreaker("camera", nopts.BreakerThreshold, nopts.BreakerReset),
		opts:    nopts,
		logger:  log.WithComponent("camera").With().Str(log.FieldBaseURL, trimmed).Logger(),
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	if opts.ShutterSettle <= 0 {
		opts.ShutterSettle = defaultShutterSettle
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "camrelay"
	}
	return opts
}

// BaseURL returns the normalized control endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// Start asks the camera to begin streaming to the relay input.
func (c *Client) Start(ctx context.Context) error {
	if c.opts.StopShutterBeforeStart {
		if err := c.StopShutter(ctx); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldEvent, "camera.shutter_stop_failed").Msg("shutter stop failed, starting stream anyway")
		}
		if err := sleepWithContext(ctx, c.opts.ShutterSettle); err != nil {
			return &RequestError{Op: OpStreamStart, Err: err}
		}
	}
	return c.call(ctx, OpStreamStart, nil)
}

// Stop asks the camera to stop streaming.
func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, OpStreamStop, nil)
}

// StopShutter stops any recording in progress.
func (c *Client) StopShutter(ctx context.Context) error {
	return c.call(ctx, OpShutterStop, nil)
}

// SetWiredMode enables or disables control over the USB network.
func (c *Client) SetWiredMode(ctx context.Context, enabled bool) error {
	p := "0"
	if enabled {
		p = "1"
	}
	return c.call(ctx, OpWiredUSB, url.Values{"p": []string{p}})
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) call(ctx context.Context, op string, params url.Values) error {
	rawURL := c.baseURL + "/" + op
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	tracer := telemetry.Tracer("camrelay.camera")
	ctx, span := tracer.Start(ctx, "camrelay.camera.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(telemetry.CameraAttributes(op, c.baseURL)...)
	defer span.End()

	var status int
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var doErr error
		status, doErr = c.doGet(ctx, rawURL)
		return doErr
	})
	duration := time.Since(start)
	recordRequestMetrics(op, status, duration, err)

	span.SetAttributes(attribute.Int(telemetry.HTTPStatusCodeKey, status))
	logger := c.logger.With().Str(log.FieldOperation, op).Int(log.FieldStatus, status).Dur("duration", duration).Logger()
	if err != nil {
		reqErr := &RequestError{Op: op, Status: status, Err: err}
		span.RecordError(reqErr)
		span.SetStatus(codes.Error, reqErr.Reason())
		span.SetAttributes(telemetry.ErrorAttributes(reqErr.Reason())...)
		logger.Warn().Err(err).Str(log.FieldEvent, "camera.request_failed").Str("reason", reqErr.Reason()).Msg("camera request failed")
		return reqErr
	}

	span.SetStatus(codes.Ok, "")
	logger.Debug().Str(log.FieldEvent, "camera.request_ok").Msg("camera request succeeded")
	return nil
}

func (c *Client) doGet(ctx context.Context, rawURL string) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyDrain))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrUnexpectedStatus, http.StatusText(resp.StatusCode))
	}
	return resp.StatusCode, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsCircuitOpen reports whether err was caused by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
