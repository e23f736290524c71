// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ManuGH/camrelay/internal/log"
)

// WiredHost returns the camera's address on its USB network:
// 172.2X.1YZ.51 where XYZ are the last three digits of the serial.
func WiredHost(serial string) (string, error) {
	prefix, err := wiredPrefix(serial)
	if err != nil {
		return "", err
	}
	return prefix + "51", nil
}

// WiredBaseURL returns the control endpoint for a camera connected over USB.
func WiredBaseURL(serial string) (string, error) {
	host, err := WiredHost(serial)
	if err != nil {
		return "", err
	}
	return "http://" + host + ":8080/gopro/camera", nil
}

func wiredPrefix(serial string) (string, error) {
	s := strings.TrimSpace(serial)
	if len(s) < 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}
	d := s[len(s)-3:]
	for _, r := range d {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
		}
	}
	return fmt.Sprintf("172.2%c.1%c%c.", d[0], d[1], d[2]), nil
}

// interfaceAddrs is swapped in tests.
var interfaceAddrs = net.InterfaceAddrs

// FindWiredLocalAddr locates the local address on the camera's USB network.
// The interface usually appears a few seconds after the cable is plugged in,
// so the lookup is attempted up to attempts times, delay apart.
func FindWiredLocalAddr(ctx context.Context, serial string, attempts int, delay time.Duration) (net.IP, error) {
	prefix, err := wiredPrefix(serial)
	if err != nil {
		return nil, err
	}
	if attempts <= 0 {
		attempts = 1
	}

	logger := log.WithComponent("camera")
	for attempt := 1; attempt <= attempts; attempt++ {
		if ip := matchLocalAddr(prefix); ip != nil {
			logger.Info().Str("local_addr", ip.String()).Int(log.FieldAttempt, attempt).Msg("found camera usb network")
			return ip, nil
		}
		if attempt == attempts {
			break
		}
		logger.Debug().Int(log.FieldAttempt, attempt).Msg("camera usb network not up yet")
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s0/24", ErrNoWiredInterface, prefix)
}

func matchLocalAddr(prefix string) net.IP {
	addrs, err := interfaceAddrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && strings.HasPrefix(ip4.String(), prefix) {
			return ip4
		}
	}
	return nil
}

// ResetWiredMode toggles wired control off and on again, which the camera
// requires before it accepts stream commands over USB.
func (c *Client) ResetWiredMode(ctx context.Context) error {
	if err := c.SetWiredMode(ctx, false); err != nil {
		return err
	}
	return c.SetWiredMode(ctx, true)
}
