// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type bufferingEvent struct {
	Buffering bool      `json:"buffering"`
	At        time.Time `json:"at"`
}

// handleEvents streams buffering notifications as server-sent events. The
// first event reports the current state; later ones are sent on change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	updates := make(chan bool, 1)
	unsubscribe := s.ctl.Subscribe(func(buffering bool) {
		// keep only the newest value
		select {
		case updates <- buffering:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- buffering:
			default:
			}
		}
	})
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := s.ctl.Session().Buffering
	if err := writeEvent(w, "session", bufferingEvent{Buffering: last, At: time.Now()}); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		if !errors.Is(err, http.ErrNotSupported) {
			s.logger.Debug().Err(err).Msg("event stream flush failed")
		}
		return
	}

	keepAlive := time.NewTicker(s.cfg.EventKeepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case b := <-updates:
			if b == last {
				continue
			}
			last = b
			err = writeEvent(w, "buffering", bufferingEvent{Buffering: b, At: time.Now()})
		case <-keepAlive.C:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("event stream closed")
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
