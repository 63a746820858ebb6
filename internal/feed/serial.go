package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/serialmux"
)

// SerialSource reads NMEA sentences from a GPS receiver on a serial port.
type SerialSource struct {
	Name    string
	Path    string
	Options serialmux.PortOptions
	// Init sentences are written once the port is open.
	Init   []string
	Prefix string
	// Open defaults to serialmux.RealOpener.
	Open serialmux.SerialPortOpener

	mu  sync.Mutex
	mux *serialmux.SerialMux[serialmux.SerialPorter]
}

// Start opens the port and starts the multiplexer.
func (s *SerialSource) Start(ctx context.Context) (<-chan string, error) {
	open := s.Open
	if open == nil {
		open = serialmux.RealOpener
	}
	port, err := open(s.Path, s.Options)
	if err != nil {
		return nil, fmt.Errorf("%s feed: %w", s.Name, err)
	}

	mux := serialmux.NewSerialMux(port)
	if err := mux.Initialize(s.Init); err != nil {
		mux.Close()
		return nil, fmt.Errorf("%s feed: %w", s.Name, err)
	}
	_, lines := mux.Subscribe()

	s.mu.Lock()
	s.mux = mux
	s.mu.Unlock()

	// A dead port ends the mux, which closes lines and then out, so the
	// session sees the feed go away.
	go func() {
		err := mux.Monitor(ctx)
		s.mu.Lock()
		closed := s.mux != mux
		s.mu.Unlock()
		if err != nil && !closed && !errors.Is(err, context.Canceled) {
			monitoring.Errorf("%s feed: serial monitor stopped: %v", s.Name, err)
		}
		mux.Close()
	}()

	out := make(chan string, messageBuffer)
	go func() {
		defer close(out)
		for line := range lines {
			if msg, ok := Filter(line, s.Prefix); ok {
				offer(out, s.Name, msg)
			}
		}
	}()
	return out, nil
}

// AttachAdminRoutes registers /debug/nmea-tail. The handler follows the
// port across session restarts.
func (s *SerialSource) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("nmea-tail", "live tail of the GPS serial port (SSE)", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		m := s.mux
		s.mu.Unlock()
		if m == nil {
			http.Error(w, "serial port not open", http.StatusServiceUnavailable)
			return
		}
		m.ServeTail(w, r)
	})
}

// Close closes the port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	m := s.mux
	s.mux = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}
