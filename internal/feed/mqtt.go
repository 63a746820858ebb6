package feed

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/autopilot/internal/broker"
	"github.com/banshee-data/autopilot/internal/monitoring"
)

// MQTTSource subscribes to one topic.
type MQTTSource struct {
	Name   string
	Broker string
	Topic  string
	Prefix string
	// Client, when set, is used instead of dialing Broker and is left
	// connected on Close.
	Client mqtt.Client

	mu      sync.Mutex
	client  mqtt.Client
	owned   bool
	handler mqtt.MessageHandler
}

// Start connects if needed and subscribes. A client the source dials
// itself resubscribes after every reconnect.
func (s *MQTTSource) Start(ctx context.Context) (<-chan string, error) {
	out := make(chan string, messageBuffer)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if line, ok := Filter(string(msg.Payload()), s.Prefix); ok {
			offer(out, s.Name, line)
		}
	}
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	client := s.Client
	owned := false
	if client == nil {
		c, err := broker.Connect(ctx, s.Broker, s.Name, broker.OnReconnect(s.resubscribe))
		if err != nil {
			return nil, err
		}
		client, owned = c, true
	}

	token := client.Subscribe(s.Topic, 0, handler)
	if err := broker.Wait(ctx, token); err != nil {
		if owned {
			client.Disconnect(250)
		}
		return nil, fmt.Errorf("%s feed: subscribe to %s: %w", s.Name, s.Topic, err)
	}

	s.mu.Lock()
	s.client, s.owned = client, owned
	s.mu.Unlock()
	return out, nil
}

// resubscribe restores the subscription on a fresh broker session. It runs
// on a paho goroutine and must not block it.
func (s *MQTTSource) resubscribe(c mqtt.Client) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}
	monitoring.Infof("%s feed: reconnected, resubscribing to %s", s.Name, s.Topic)
	token := c.Subscribe(s.Topic, 0, handler)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.Errorf("%s feed: resubscribe to %s: %v", s.Name, s.Topic, err)
		}
	}()
}

// Close unsubscribes and disconnects a client the source dialed itself.
func (s *MQTTSource) Close() error {
	s.mu.Lock()
	client, owned := s.client, s.owned
	s.client = nil
	s.handler = nil
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	client.Unsubscribe(s.Topic)
	if owned {
		client.Disconnect(250)
	}
	return nil
}
