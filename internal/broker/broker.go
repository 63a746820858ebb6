// Package broker connects to the ship's MQTT broker. The nav and heartbeat
// feeds, the MQTT command transport and the status publisher share it.
package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/autopilot/internal/monitoring"
)

// Option adjusts the client options before connecting.
type Option func(*mqtt.ClientOptions)

// OnReconnect runs fn each time the client comes back after a lost
// connection. The broker forgets subscriptions of a clean session, so
// subscribers use it to restore them.
func OnReconnect(fn func(mqtt.Client)) Option {
	return func(o *mqtt.ClientOptions) {
		var connected atomic.Bool
		o.SetOnConnectHandler(func(c mqtt.Client) {
			if !connected.Swap(true) {
				return
			}
			fn(c)
		})
	}
}

// Connect opens a client to addr. role becomes part of the client ID,
// which also carries a random suffix so restarted sessions never collide
// with a half-closed predecessor on the broker.
func Connect(ctx context.Context, addr, role string, options ...Option) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(addr).
		SetClientID(ClientID(role)).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Warnf("mqtt %s: connection lost: %v", role, err)
		})
	for _, o := range options {
		o(opts)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("mqtt %s: connect to %s: %w", role, addr, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt %s: connect to %s: %w", role, addr, err)
	}
	monitoring.Infof("mqtt %s: connected to %s", role, addr)
	return client, nil
}

// ClientID returns a unique client identifier for role.
func ClientID(role string) string {
	return "autopilot-" + role + "-" + uuid.NewString()[:8]
}

// Wait blocks until token completes or ctx is done.
func Wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
