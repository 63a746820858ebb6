package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/banshee-data/autopilot/internal/monitoring"
)

// maxDatagram comfortably fits an NMEA sentence plus a timestamp line.
const maxDatagram = 2048

// UDPSource receives messages broadcast as UDP datagrams, one message per
// datagram, the way shipboard navigation distributors publish NMEA.
type UDPSource struct {
	Name   string
	Addr   string
	Prefix string

	mu   sync.Mutex
	conn net.PacketConn
}

// Start binds Addr. A bind failure is fatal to the caller.
func (s *UDPSource) Start(ctx context.Context) (<-chan string, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("%s feed: listen %s: %w", s.Name, s.Addr, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	out := make(chan string, messageBuffer)
	go func() {
		defer close(out)
		buf := make([]byte, maxDatagram)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					monitoring.Errorf("%s feed: read: %v", s.Name, err)
				}
				return
			}
			if msg, ok := Filter(string(buf[:n]), s.Prefix); ok {
				offer(out, s.Name, msg)
			}
		}
	}()
	return out, nil
}

// LocalAddr returns the bound address, or nil before Start.
func (s *UDPSource) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close unbinds the socket.
func (s *UDPSource) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
