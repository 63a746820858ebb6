// Package serialmux shares one NMEA serial device between several readers
// and writes receiver setup sentences to it.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/banshee-data/autopilot/internal/monitoring"
)

// subscriberBuffer absorbs a burst of sentences (a GPS typically emits
// several per second) while the consumer is busy.
const subscriberBuffer = 32

// SerialMux fans the lines read from one port out to its subscribers.
type SerialMux[T SerialPorter] struct {
	port    T
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[uint64]chan string
	nextID uint64
	closed bool
}

// NewSerialMux creates a SerialMux reading from port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subs: make(map[uint64]chan string)}
}

// Subscribe registers a new reader. Its channel is closed by Unsubscribe
// or Close.
func (s *SerialMux[T]) Subscribe() (uint64, <-chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ch := make(chan string, subscriberBuffer)
	if s.closed {
		close(ch)
	} else {
		s.subs[s.nextID] = ch
	}
	return s.nextID, ch
}

// Unsubscribe removes a reader. Unknown ids are ignored.
func (s *SerialMux[T]) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// Initialize writes receiver setup sentences, such as output-rate or
// sentence-selection commands, in order.
func (s *SerialMux[T]) Initialize(sentences []string) error {
	for _, sentence := range sentences {
		if err := s.SendCommand(sentence); err != nil {
			return fmt.Errorf("failed to send init sentence %q: %w", sentence, err)
		}
	}
	return nil
}

// SendCommand writes one sentence terminated by CRLF.
func (s *SerialMux[T]) SendCommand(sentence string) error {
	line := strings.TrimRight(sentence, "\r\n") + "\r\n"
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return fmt.Errorf("short write to serial port: %d of %d bytes", n, len(line))
	}
	return nil
}

// Monitor reads the port until ctx is done, the port fails or reaches EOF,
// or the mux is closed. A subscriber that falls behind loses lines rather
// than stalling the port.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.readLines() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func (s *SerialMux[T]) readLines() error {
	r := bufio.NewReader(s.port)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			if !s.broadcast(line) {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}
	}
}

func (s *SerialMux[T]) broadcast(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			monitoring.Debugf("serialmux: subscriber full, dropping %q", line)
		}
	}
	return true
}

func (s *SerialMux[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes every subscriber channel and then the port. Later calls do
// nothing.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

// ServeTail streams every line read from the port to the client as
// Server-Sent Events until it disconnects or the mux is closed.
func (s *SerialMux[T]) ServeTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	io.WriteString(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
