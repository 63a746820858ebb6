package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/autopilot/internal/monitoring"
)

const (
	// clientBuffer is how many snapshots a websocket client may lag
	// before it starts missing them.
	clientBuffer = 8
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // admin server is reachable on the ship LAN only
	},
}

// Server keeps the latest snapshot for HTTP polling and streams every new
// one to websocket clients.
type Server struct {
	mu      sync.Mutex
	latest  *Snapshot
	clients map[chan Snapshot]struct{}
}

func NewServer() *Server {
	return &Server{clients: make(map[chan Snapshot]struct{})}
}

// Publish stores s and offers it to every connected client. A client
// whose buffer is full misses this snapshot.
func (s *Server) Publish(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &snap
	for ch := range s.clients {
		select {
		case ch <- snap:
		default:
		}
	}
	return nil
}

// Latest returns the most recent snapshot, if any.
func (s *Server) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	return *s.latest, true
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) subscribe() chan Snapshot {
	ch := make(chan Snapshot, clientBuffer)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	if s.latest != nil {
		ch <- *s.latest
	}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

// AttachRoutes registers /status, /status/ws and a summary on the tsweb
// debug index.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/ws", s.handleWS)

	debug := tsweb.Debugger(mux)
	debug.KVFunc("Region", func() any {
		if snap, ok := s.Latest(); ok {
			return snap.Region
		}
		return "(no fix yet)"
	})
	debug.KVFunc("Pinging", func() any {
		snap, _ := s.Latest()
		return snap.Pinging
	})
	debug.KVFunc("Session", func() any {
		snap, _ := s.Latest()
		if !snap.SessionOpen {
			return "closed"
		}
		return snap.SessionName
	})
	debug.KVFunc("Status clients", func() any { return s.Clients() })
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, ok := s.Latest()
	if !ok {
		http.Error(w, "No status yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		monitoring.Warnf("status: failed to write response: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Warnf("status: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// The stream is one-way; reading only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					monitoring.Debugf("status: websocket read: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case snap := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				monitoring.Debugf("status: websocket write: %v", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
