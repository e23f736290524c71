// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sinkState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camrelay_playback_state",
		Help: "Number of playback sinks in each non-idle state",
	}, []string{"state"})

	stallTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camrelay_playback_stall_total",
		Help: "Times playback fell back to buffering after a stall",
	})

	datagramTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_playback_datagrams_total",
		Help: "Datagrams received by the udp backend by result",
	}, []string{"result"})
)

func stateGauge(old, cur State) {
	if old != StateIdle {
		sinkState.WithLabelValues(old.String()).Dec()
	}
	if cur != StateIdle {
		sinkState.WithLabelValues(cur.String()).Inc()
	}
}
