// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/camrelay/internal/log"
)

const maxBodyBytes = 4 << 10

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Start(); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).Msg("start rejected")
		writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctl.Session())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(); err != nil {
		writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctl.Session())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Session())
}

type restartRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetRestart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req restartRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", errors.New("enabled is required"))
		return
	}
	if err := s.ctl.SetRestartEnabled(*req.Enabled); err != nil {
		writeControlError(w, r, err)
		return
	}
	s.logger.Info().Bool("enabled", *req.Enabled).Msg("restart policy changed")
	writeJSON(w, http.StatusOK, s.ctl.Session())
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}
