// Package feed delivers text messages from the navigation and heartbeat
// streams. Each Source pushes messages into a buffered channel from its
// own goroutine; the event loop is the only consumer.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/autopilot/internal/config"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/serialmux"
)

// messageBuffer holds messages that arrive between event loop wakeups.
const messageBuffer = 64

// Source is a subscribe-style message stream.
type Source interface {
	// Start connects and begins delivery. A connection failure is
	// returned here; later transport errors are logged.
	Start(ctx context.Context) (<-chan string, error)
	Close() error
}

// Filter keeps only the first line of a message and drops messages whose
// first line does not start with prefix. An empty prefix keeps everything
// that is not blank.
func Filter(msg, prefix string) (string, bool) {
	line, _, _ := strings.Cut(msg, "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if prefix != "" && !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return line, true
}

// offer delivers msg without blocking the producer.
func offer(out chan<- string, name, msg string) {
	select {
	case out <- msg:
	default:
		monitoring.Warnf("%s feed: consumer behind, dropping message", name)
	}
}

// FromConfig builds the Source described by cfg. name labels log lines
// and MQTT client IDs.
func FromConfig(cfg config.FeedConfig, name string) (Source, error) {
	switch cfg.Kind {
	case config.FeedMQTT:
		return &MQTTSource{Name: name, Broker: cfg.Broker, Topic: cfg.Topic, Prefix: cfg.Prefix}, nil
	case config.FeedSerial:
		return &SerialSource{
			Name:    name,
			Path:    cfg.Port,
			Options: serialmux.PortOptions{BaudRate: cfg.Baud, Framing: cfg.Framing},
			Init:    cfg.Init,
			Prefix:  cfg.Prefix,
		}, nil
	case config.FeedUDP:
		return &UDPSource{Name: name, Addr: cfg.Addr, Prefix: cfg.Prefix}, nil
	default:
		return nil, fmt.Errorf("%s: unknown feed kind %q", name, cfg.Kind)
	}
}
