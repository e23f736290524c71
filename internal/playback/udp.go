// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/ManuGH/camrelay/internal/log"
	"github.com/ManuGH/camrelay/internal/relay"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47

	// Bytes per millisecond of buffering used to size the socket buffer,
	// assuming a 20 Mbit/s stream.
	bytesPerMs        = 2500
	minSocketBuffer   = 64 << 10
	readErrorBackoff  = 100 * time.Millisecond
	defaultStallAfter = time.Second
)

// UDPSink receives the relay's MPEG-TS datagrams in-process. It reports
// Buffering until MinBufferMs of uninterrupted input arrived, then Playing,
// and falls back to Buffering when input stalls for NetworkCachingMs.
type UDPSink struct {
	tuning  Tuning
	forward io.Writer
	n       *notifier

	mu       sync.Mutex
	uri      string
	conn     net.PacketConn
	cancel   context.CancelFunc
	done     chan struct{}
	released bool
}

var _ Sink = (*UDPSink)(nil)

// NewUDPSink creates an in-process receiver. forward may be nil.
func NewUDPSink(tuning Tuning, forward io.Writer) *UDPSink {
	return &UDPSink{
		tuning:  tuning,
		forward: forward,
		n:       newNotifier(BackendUDP),
	}
}

// Open binds to the source URI, e.g. "udp://@localhost:8555". Any previous
// source is closed first.
func (s *UDPSink) Open(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}

	ep, err := relay.ParseUDPURI(uri)
	if err != nil {
		return &OpenError{URI: uri, Err: err}
	}
	s.closeLocked()

	conn, err := listenUDP(ep)
	if err != nil {
		return &OpenError{URI: uri, Err: err}
	}
	if uc, ok := conn.(*net.UDPConn); ok {
		size := s.tuning.MaxBufferMs * bytesPerMs
		if size < minSocketBuffer {
			size = minSocketBuffer
		}
		_ = uc.SetReadBuffer(size)
	}

	s.uri = uri
	s.conn = conn
	s.n.logger.Debug().Str(log.FieldSourceURI, uri).Str("local_addr", conn.LocalAddr().String()).Msg("playback source opened")
	s.n.set(StateIdle)
	return nil
}

func listenUDP(ep relay.UDPEndpoint) (net.PacketConn, error) {
	ip := net.ParseIP(ep.Host)
	if ip != nil && ip.IsMulticast() {
		conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(ep.Port)))
		if err != nil {
			return nil, err
		}
		if err := ipv4.NewPacketConn(conn).JoinGroup(nil, &net.UDPAddr{IP: ip}); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
	network := "udp4"
	if ip != nil && ip.To4() == nil {
		network = "udp6"
	}
	return net.ListenPacket(network, ep.Address())
}

// Play starts receiving. It is a no-op while already receiving.
func (s *UDPSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	if s.conn == nil {
		return ErrNotOpen
	}
	if s.done != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.n.set(StateBuffering)
	go s.receive(ctx, s.conn, s.done)
	return nil
}

func (s *UDPSink) receive(ctx context.Context, conn net.PacketConn, done chan struct{}) {
	defer close(done)

	stallAfter := time.Duration(s.tuning.NetworkCachingMs) * time.Millisecond
	if stallAfter <= 0 {
		stallAfter = defaultStallAfter
	}
	minBuffer := time.Duration(s.tuning.MinBufferMs) * time.Millisecond

	buf := make([]byte, 64<<10)
	var runStart time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(stallAfter))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			runStart = time.Time{}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if s.n.current() == StatePlaying {
					stallTotal.Inc()
					s.n.logger.Info().Str(log.FieldEvent, "playback.stall").Dur("after", stallAfter).Msg("no input, buffering")
				}
				s.n.set(StateBuffering)
				continue
			}
			s.n.logger.Warn().Err(err).Str(log.FieldEvent, "playback.read_failed").Msg("udp read failed")
			s.n.set(StateBuffering)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		pkt := buf[:n]
		if !validTS(pkt) {
			datagramTotal.WithLabelValues("invalid").Inc()
			continue
		}
		datagramTotal.WithLabelValues("valid").Inc()

		if s.forward != nil {
			if _, err := s.forward.Write(pkt); err != nil {
				s.n.logger.Debug().Err(err).Msg("forward write failed")
			}
		}

		now := time.Now()
		if runStart.IsZero() {
			runStart = now
		}
		if now.Sub(runStart) >= minBuffer {
			s.n.set(StatePlaying)
		}
	}
}

// validTS reports whether p is a whole number of MPEG-TS packets, each
// starting with the sync byte.
func validTS(p []byte) bool {
	if len(p) == 0 || len(p)%tsPacketSize != 0 {
		return false
	}
	for i := 0; i < len(p); i += tsPacketSize {
		if p[i] != tsSyncByte {
			return false
		}
	}
	return true
}

// Stop stops receiving and closes the source.
func (s *UDPSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.closeLocked()
	s.n.set(StateStopped)
	return nil
}

// Release stops the sink for good and drops all subscribers.
func (s *UDPSink) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.closeLocked()
	s.released = true
	s.n.set(StateStopped)
	s.n.clear()
	return nil
}

func (s *UDPSink) closeLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.done != nil {
		<-s.done
	}
	s.cancel = nil
	s.conn = nil
	s.done = nil
	s.uri = ""
}

// Source returns the currently opened source URI.
func (s *UDPSink) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

func (s *UDPSink) Subscribe(fn func(State)) func() { return s.n.subscribe(fn) }

func (s *UDPSink) State() State { return s.n.current() }

// LocalAddr returns the bound address, or nil when no source is open.
func (s *UDPSink) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
