// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/orchestrator"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind string, err error) {
	resp := errorResponse{Error: kind, RequestID: log.RequestIDFromContext(r.Context())}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, code, resp)
}

// writeControlError maps orchestrator errors to HTTP status codes.
func writeControlError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotIdle):
		writeError(w, r, http.StatusConflict, "session_active", err)
	case errors.Is(err, orchestrator.ErrReleased):
		writeError(w, r, http.StatusServiceUnavailable, "released", err)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", err)
	}
}
