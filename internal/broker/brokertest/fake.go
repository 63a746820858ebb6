// Package brokertest provides an in-memory stand-in for an MQTT client.
package brokertest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  []byte
}

// FakeClient implements the parts of mqtt.Client the controller uses.
// Calling any other method panics through the nil embedded interface.
type FakeClient struct {
	mqtt.Client

	mu          sync.Mutex
	handlers    map[string]mqtt.MessageHandler
	published   []Published
	unsubscribe []string
	// OnPublish, when set, runs after each Publish is recorded.
	OnPublish func(c *FakeClient, topic string, payload []byte)
	// PublishErr, when set, is returned by every publish token.
	PublishErr error
	// SubscribeErr, when set, is returned by every subscribe token.
	SubscribeErr error
	Disconnected bool
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

// Subscribe records the handler for topic.
func (c *FakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return doneToken{err: c.SubscribeErr}
	}
	c.handlers[topic] = callback
	return doneToken{}
}

// Unsubscribe removes the handlers for topics.
func (c *FakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
		c.unsubscribe = append(c.unsubscribe, t)
	}
	return doneToken{}
}

// Publish records the message and runs OnPublish.
func (c *FakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case string:
		b = []byte(p)
	case []byte:
		b = p
	}
	c.mu.Lock()
	if c.PublishErr != nil {
		err := c.PublishErr
		c.mu.Unlock()
		return doneToken{err: err}
	}
	c.published = append(c.published, Published{Topic: topic, Qos: qos, Retained: retained, Payload: b})
	hook := c.OnPublish
	c.mu.Unlock()

	if hook != nil {
		hook(c, topic, b)
	}
	return doneToken{}
}

// Disconnect marks the client disconnected.
func (c *FakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disconnected = true
}

// IsConnected reports whether Disconnect has not been called.
func (c *FakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Disconnected
}

// Deliver invokes the handler subscribed to topic, as the broker would.
// It reports whether a handler was registered.
func (c *FakeClient) Deliver(topic string, payload string) bool {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(c, message{topic: topic, payload: []byte(payload)})
	return true
}

// Subscribed reports whether a handler is registered for topic.
func (c *FakeClient) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Published returns a copy of all recorded publishes.
func (c *FakeClient) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m message) Topic() string     { return m.topic }
func (m message) Payload() []byte   { return m.payload }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Duplicate() bool   { return false }
func (m message) MessageID() uint16 { return 0 }
func (m message) Ack()              {}
