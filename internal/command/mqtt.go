package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/autopilot/internal/broker"
	"github.com/banshee-data/autopilot/internal/monitoring"
)

// MQTTTransport publishes requests on one topic and takes the first
// message on another as the reply.
type MQTTTransport struct {
	mu           sync.Mutex
	client       mqtt.Client
	requestTopic string
	replyTopic   string
	replies      chan string
	owned        bool
}

// NewMQTTTransport subscribes to replyTopic on an already connected
// client. Close unsubscribes but leaves the client connected.
func NewMQTTTransport(ctx context.Context, client mqtt.Client, requestTopic, replyTopic string) (*MQTTTransport, error) {
	t := &MQTTTransport{
		client:       client,
		requestTopic: requestTopic,
		replyTopic:   replyTopic,
		replies:      make(chan string, replyBuffer),
	}
	token := client.Subscribe(replyTopic, 1, t.onReply)
	if err := broker.Wait(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", replyTopic, err)
	}
	return t, nil
}

// DialMQTT connects to addr and returns a transport that owns the client.
// The reply subscription is restored after every reconnect.
func DialMQTT(ctx context.Context, addr, requestTopic, replyTopic string) (*MQTTTransport, error) {
	var current atomic.Pointer[MQTTTransport]
	client, err := broker.Connect(ctx, addr, "command", broker.OnReconnect(func(c mqtt.Client) {
		if t := current.Load(); t != nil {
			t.resubscribe(c)
		}
	}))
	if err != nil {
		return nil, err
	}
	t, err := NewMQTTTransport(ctx, client, requestTopic, replyTopic)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	t.owned = true
	current.Store(t)
	return t, nil
}

func (t *MQTTTransport) onReply(_ mqtt.Client, msg mqtt.Message) {
	line := strings.TrimSpace(string(msg.Payload()))
	select {
	case t.replies <- line:
	default:
		monitoring.Debugf("command mqtt: dropping unsolicited reply %q", line)
	}
}

// resubscribe runs on a paho goroutine and must not block it.
func (t *MQTTTransport) resubscribe(c mqtt.Client) {
	monitoring.Infof("command mqtt: reconnected, resubscribing to %s", t.replyTopic)
	token := c.Subscribe(t.replyTopic, 1, t.onReply)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.Errorf("command mqtt: resubscribe to %s: %v", t.replyTopic, err)
		}
	}()
}

// Request publishes body and waits for the next reply.
func (t *MQTTTransport) Request(ctx context.Context, body string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

drain:
	for {
		select {
		case stale := <-t.replies:
			monitoring.Debugf("command mqtt: discarding stale reply %q", stale)
		default:
			break drain
		}
	}

	if err := broker.Wait(ctx, t.client.Publish(t.requestTopic, 1, false, body)); err != nil {
		return "", fmt.Errorf("failed to publish request: %w", err)
	}

	select {
	case reply := <-t.replies:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close unsubscribes from the reply topic, and disconnects if the
// transport opened the connection itself.
func (t *MQTTTransport) Close() error {
	t.client.Unsubscribe(t.replyTopic)
	if t.owned {
		t.client.Disconnect(250)
	}
	return nil
}
