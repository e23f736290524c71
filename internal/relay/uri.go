// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultInputURI  = "udp://:8554"
	DefaultOutputURI = "udp://localhost:8555"
	DefaultPlayerURI = "udp://@localhost:8555"
)

// ListenURI returns the ffmpeg input URI listening on all interfaces.
func ListenURI(port int) string {
	return "udp://:" + strconv.Itoa(port)
}

// OutputURI returns the ffmpeg output URI sending to host:port.
func OutputURI(host string, port int) string {
	return "udp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// UDPEndpoint is a parsed udp:// URI in either ffmpeg or player form.
type UDPEndpoint struct {
	Host string // empty means all interfaces
	Port int
	Bind bool // "@" form: receive on host rather than send to it
}

// ParseUDPURI parses "udp://host:port", "udp://@host:port" and "udp://:port".
// Query parameters are ignored.
func ParseUDPURI(raw string) (UDPEndpoint, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), "udp://")
	if !ok {
		return UDPEndpoint{}, fmt.Errorf("not a udp uri: %q", raw)
	}
	if i := strings.IndexAny(rest, "?/"); i >= 0 {
		rest = rest[:i]
	}
	var ep UDPEndpoint
	if after, found := strings.CutPrefix(rest, "@"); found {
		ep.Bind = true
		rest = after
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return UDPEndpoint{}, fmt.Errorf("parse udp uri %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return UDPEndpoint{}, fmt.Errorf("parse udp uri %q: invalid port %q", raw, portStr)
	}
	ep.Host = host
	ep.Port = port
	return ep, nil
}

// Address returns host:port for dialing or binding.
func (e UDPEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// PlayerURI converts a relay output URI into the form a player binds to.
func PlayerURI(outputURI string) (string, error) {
	ep, err := ParseUDPURI(outputURI)
	if err != nil {
		return "", err
	}
	return "udp://@" + ep.Address(), nil
}

// FFmpegURI converts a player-side "udp://@host:port" URI into the sender form.
func FFmpegURI(playerURI string) (string, error) {
	ep, err := ParseUDPURI(playerURI)
	if err != nil {
		return "", err
	}
	return "udp://" + ep.Address(), nil
}

// withPacketSize appends pkt_size to a udp output URI unless already present.
func withPacketSize(out string, size int) string {
	if size <= 0 || !strings.HasPrefix(out, "udp://") {
		return out
	}
	base, query, _ := strings.Cut(out, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		return out
	}
	if values.Has("pkt_size") {
		return out
	}
	values.Set("pkt_size", strconv.Itoa(size))
	return base + "?" + values.Encode()
}
