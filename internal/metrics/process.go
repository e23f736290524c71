// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_proc_terminate_total",
		Help: "Signals sent to supervised process groups by signal and result",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrelay_proc_wait_total",
		Help: "Observed exits of terminated process groups by outcome",
	}, []string{"outcome"})
)

// IncProcTerminate counts a termination signal delivery attempt.
// result is one of "sent", "esrch" or "error".
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait counts the exit observed after a termination request.
func IncProcWait(outcome string) {
	procWait.WithLabelValues(outcome).Inc()
}
