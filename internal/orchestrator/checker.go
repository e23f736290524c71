// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"

	"github.com/ManuGH/camrelay/internal/health"
)

// Checker reports the session lifecycle to the health manager.
func (o *Orchestrator) Checker() health.Checker {
	return sessionChecker{o: o}
}

type sessionChecker struct {
	o *Orchestrator
}

func (sessionChecker) Name() string { return "session" }

func (c sessionChecker) Check(context.Context) health.CheckResult {
	s := c.o.Session()
	switch s.State {
	case StatePlaying:
		return health.CheckResult{Status: health.StatusHealthy, Message: "playing"}
	case StateIdle:
		return health.CheckResult{Status: health.StatusHealthy, Message: "idle", Error: s.LastError}
	case StateReleased:
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "released"}
	default:
		return health.CheckResult{Status: health.StatusDegraded, Message: string(s.State), Error: s.LastError}
	}
}
