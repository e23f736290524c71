// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Progress is a snapshot of the relay's -progress reports.
type Progress struct {
	OutTimeMs     int64
	TotalSize     int64
	Speed         string
	LastAdvanceAt time.Time // zero until output first advanced
	Ended         bool
}

// Advancing reports whether output has moved at all.
func (p Progress) Advancing() bool {
	return !p.LastAdvanceAt.IsZero()
}

// Stalled reports whether output has not advanced for longer than d.
// A relay that never produced output is not considered stalled.
func (p Progress) Stalled(now time.Time, d time.Duration) bool {
	if d <= 0 || p.LastAdvanceAt.IsZero() {
		return false
	}
	return now.Sub(p.LastAdvanceAt) > d
}

var progressKeys = map[string]struct{}{
	"frame": {}, "fps": {}, "bitrate": {}, "total_size": {},
	"out_time_us": {}, "out_time_ms": {}, "out_time": {},
	"dup_frames": {}, "drop_frames": {}, "speed": {}, "progress": {},
}

// progressTracker consumes ffmpeg "-progress" key=value lines.
type progressTracker struct {
	mu      sync.RWMutex
	now     func() time.Time
	state   Progress
	onFirst func()
	fired   bool
}

func newProgressTracker(onFirst func()) *progressTracker {
	return &progressTracker{now: time.Now, onFirst: onFirst}
}

// ParseLine handles one line and reports whether it was a progress line.
func (t *progressTracker) ParseLine(line string) bool {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return false
	}
	key = strings.TrimSpace(key)
	if _, known := progressKeys[key]; !known && !strings.HasPrefix(key, "stream_") {
		return false
	}
	val = strings.TrimSpace(val)

	var fire func()
	t.mu.Lock()
	switch key {
	case "out_time_ms", "out_time_us":
		// Both keys carry microseconds in ffmpeg's progress output.
		us, err := strconv.ParseInt(val, 10, 64)
		if err == nil && us/1000 > t.state.OutTimeMs {
			t.state.OutTimeMs = us / 1000
			fire = t.advanceLocked()
		}
	case "total_size":
		size, err := strconv.ParseInt(val, 10, 64)
		if err == nil && size > t.state.TotalSize {
			t.state.TotalSize = size
			fire = t.advanceLocked()
		}
	case "speed":
		t.state.Speed = val
	case "progress":
		if val == "end" {
			t.state.Ended = true
		}
	}
	t.mu.Unlock()

	if fire != nil {
		fire()
	}
	return true
}

func (t *progressTracker) advanceLocked() func() {
	t.state.LastAdvanceAt = t.now()
	if t.fired {
		return nil
	}
	t.fired = true
	return t.onFirst
}

func (t *progressTracker) Snapshot() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}
