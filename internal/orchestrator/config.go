// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"time"

	"github.com/ManuGH/camrelay/internal/relay"
)

// Config holds the session wiring and timing policy.
type Config struct {
	CameraBaseURL string
	InputURI      string
	OutputURI     string
	// PlayerURI is the source handed to the playback sink. Derived from
	// OutputURI when empty.
	PlayerURI string

	RestartEnabled bool

	SpawnDelay     time.Duration
	GraceDelay     time.Duration
	RetryBackoff   time.Duration
	HealthInterval time.Duration
	// ReadinessProbe opens playback as soon as the relay reports output
	// instead of always waiting for GraceDelay.
	ReadinessProbe bool
	// RelayStallTimeout fails the health check when relay output has not
	// advanced for this long. Zero disables the check.
	RelayStallTimeout time.Duration

	CameraTimeout    time.Duration
	RelayStopTimeout time.Duration

	Workers     int
	WorkerQueue int
}

// DefaultConfig returns the standard timing policy.
func DefaultConfig() Config {
	return Config{
		InputURI:         relay.DefaultInputURI,
		OutputURI:        relay.DefaultOutputURI,
		PlayerURI:        relay.DefaultPlayerURI,
		RestartEnabled:   true,
		SpawnDelay:       time.Second,
		GraceDelay:       time.Second,
		RetryBackoff:     time.Second,
		HealthInterval:   10 * time.Second,
		CameraTimeout:    15 * time.Second,
		RelayStopTimeout: 15 * time.Second,
		Workers:          2,
		WorkerQueue:      16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InputURI == "" {
		c.InputURI = d.InputURI
	}
	if c.OutputURI == "" {
		c.OutputURI = d.OutputURI
	}
	if c.PlayerURI == "" {
		if p, err := relay.PlayerURI(c.OutputURI); err == nil {
			c.PlayerURI = p
		} else {
			c.PlayerURI = d.PlayerURI
		}
	}
	if c.SpawnDelay < 0 {
		c.SpawnDelay = 0
	}
	if c.GraceDelay < 0 {
		c.GraceDelay = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.CameraTimeout <= 0 {
		c.CameraTimeout = d.CameraTimeout
	}
	if c.RelayStopTimeout <= 0 {
		c.RelayStopTimeout = d.RelayStopTimeout
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.WorkerQueue <= 0 {
		c.WorkerQueue = d.WorkerQueue
	}
	return c
}
