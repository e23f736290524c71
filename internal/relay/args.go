// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import "strconv"

const (
	DefaultProbeSize  = 100000
	DefaultPacketSize = 1316
)

// BuildArgs returns the ffmpeg arguments that re-package an MPEG-TS stream
// from in to out without transcoding. Progress is reported on stderr.
func BuildArgs(in, out string, probeSize, packetSize int) []string {
	if probeSize <= 0 {
		probeSize = DefaultProbeSize
	}
	return []string{
		"-hide_banner",
		"-nostats",
		"-progress", "pipe:2",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", "mpegts",
		"-an",
		"-probesize", strconv.Itoa(probeSize),
		"-i", in,
		"-f", "mpegts",
		"-vcodec", "copy",
		withPacketSize(out, packetSize),
	}
}
