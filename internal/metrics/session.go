// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camrelay_session_state",
		Help: "Current orchestrator state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_session_transitions_total",
		Help: "Orchestrator state transitions",
	}, []string{"from", "to"})

	// SessionRestarts counts full relay chain restarts triggered by the health check.
	SessionRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camrelay_session_restarts_total",
		Help: "Relay chain restarts triggered by failed health checks",
	})

	// CameraStartAttempts counts camera start attempts by outcome (success, failure).
	CameraStartAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_session_camera_start_attempts_total",
		Help: "Camera stream start attempts issued by the orchestrator",
	}, []string{"outcome"})

	// HealthChecks counts health check evaluations by result (healthy, unhealthy, grace, skipped).
	HealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_session_health_checks_total",
		Help: "Session health check evaluations",
	}, []string{"result"})

	// PlaybackOpens counts playback open attempts by result.
	PlaybackOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_session_playback_opens_total",
		Help: "Playback open attempts issued by the orchestrator",
	}, []string{"result"})
)

// SetSessionState marks state as the active orchestrator state among all known states.
func SetSessionState(state string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1.0
		}
		sessionState.WithLabelValues(s).Set(value)
	}
}

// RecordSessionTransition counts a state transition.
func RecordSessionTransition(from, to string) {
	sessionTransitions.WithLabelValues(from, to).Inc()
}
