package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/autopilot/internal/broker"
)

// publishTimeout bounds how long a slow broker can hold up the loop.
const publishTimeout = 2 * time.Second

// MQTTPublisher writes each snapshot as retained JSON, so late
// subscribers see the latest state immediately.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	owned  bool
}

// NewMQTTPublisher publishes through an existing client.
func NewMQTTPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

// DialMQTTPublisher connects its own client to addr.
func DialMQTTPublisher(ctx context.Context, addr, topic string) (*MQTTPublisher, error) {
	client, err := broker.Connect(ctx, addr, "status")
	if err != nil {
		return nil, err
	}
	return &MQTTPublisher{client: client, topic: topic, owned: true}, nil
}

func (p *MQTTPublisher) Publish(s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out after %s", p.topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects the client if the publisher dialed it.
func (p *MQTTPublisher) Close() error {
	if p.owned {
		p.client.Disconnect(250)
	}
	return nil
}
