// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	spawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_relay_spawn_total",
		Help: "Total number of relay process spawns",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_relay_exit_total",
		Help: "Total number of relay process exits",
	}, []string{"reason"})

	activeHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camrelay_relay_active",
		Help: "Number of relay processes currently running",
	})

	readyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camrelay_relay_ready_seconds",
		Help:    "Time from spawn until the relay first reported output",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 8),
	})
)
