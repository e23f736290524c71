// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Camera attributes
	CameraOperationKey = "camera.operation"
	CameraBaseURLKey   = "camera.base_url"

	// Session attributes
	SessionIDKey    = "session.id"
	SessionStateKey = "session.state"

	// Relay attributes
	RelayInputKey  = "relay.input_uri"
	RelayOutputKey = "relay.output_uri"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// CameraAttributes creates camera control span attributes.
func CameraAttributes(operation, baseURL string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CameraOperationKey, operation),
		attribute.String(CameraBaseURLKey, baseURL),
	}
}

// RelayAttributes creates relay span attributes. Empty values are omitted.
func RelayAttributes(sessionID, input, output string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if input != "" {
		attrs = append(attrs, attribute.String(RelayInputKey, input))
	}
	if output != "" {
		attrs = append(attrs, attribute.String(RelayOutputKey, output))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
