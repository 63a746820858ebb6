package broker

import (
	"strings"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
)

func TestOnReconnect_SkipsInitialConnect(t *testing.T) {
	var calls int
	opts := mqtt.NewClientOptions()
	OnReconnect(func(mqtt.Client) { calls++ })(opts)

	opts.OnConnect(nil)
	assert.Equal(t, 0, calls, "first connect is not a reconnect")
	opts.OnConnect(nil)
	opts.OnConnect(nil)
	assert.Equal(t, 2, calls)
}

func TestClientID(t *testing.T) {
	a, b := ClientID("gpsnav"), ClientID("gpsnav")
	assert.True(t, strings.HasPrefix(a, "autopilot-gpsnav-"))
	assert.Len(t, a, len("autopilot-gpsnav-")+8)
	assert.NotEqual(t, a, b)
}
