package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/autopilot/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func startMonitor(t *testing.T, mux *SerialMux[*FakePort]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestSerialMux_FanOutStripsCR(t *testing.T) {
	port := NewFakePort()
	mux := NewSerialMux(port)

	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()
	assert.NotEmpty(t, id1)

	startMonitor(t, mux)
	port.Feed("$GPGGA,1*00\r\n\r\n$GPRMC,2*00\r\n")

	assert.Equal(t, "$GPGGA,1*00", recv(t, ch1))
	assert.Equal(t, "$GPRMC,2*00", recv(t, ch1))
	assert.Equal(t, "$GPGGA,1*00", recv(t, ch2))
	assert.Equal(t, "$GPRMC,2*00", recv(t, ch2))

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel is closed")
	mux.Unsubscribe(id1)
}

func TestSerialMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewFakePort()
	mux := NewSerialMux(port)
	_, slow := mux.Subscribe()
	_, fast := mux.Subscribe()

	startMonitor(t, mux)
	var sb strings.Builder
	for i := 0; i < subscriberBuffer+10; i++ {
		sb.WriteString("$GPGGA\r\n")
	}
	port.Feed(sb.String())
	require.Eventually(t, func() bool { return len(slow) == subscriberBuffer }, time.Second, time.Millisecond)

	// Drain fast only; the monitor must still deliver new lines to it.
	for len(fast) > 0 {
		<-fast
	}
	port.Feed("$LAST\r\n")
	for recv(t, fast) != "$LAST" {
	}
	assert.Len(t, slow, subscriberBuffer)
}

func TestSerialMux_MonitorStopsOnCancelAndError(t *testing.T) {
	port := NewFakePort()
	mux := NewSerialMux(port)
	cancel, errCh := startMonitor(t, mux)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	port2 := NewFakePort()
	mux2 := NewSerialMux(port2)
	_, errCh2 := startMonitor(t, mux2)
	boom := errors.New("device unplugged")
	port2.FailRead(boom)
	assert.ErrorIs(t, <-errCh2, boom)
}

func TestSerialMux_SendCommandAndInitialize(t *testing.T) {
	port := NewFakePort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.Initialize([]string{"$PMTK220,1000*1F", "$PMTK314,0,0,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0*35\n"}))
	assert.Equal(t,
		"$PMTK220,1000*1F\r\n$PMTK314,0,0,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0*35\r\n",
		port.Written())

	port.FailWrite(errors.New("write failed"))
	err := mux.Initialize([]string{"$PMTK220,1000*1F"})
	assert.ErrorContains(t, err, "write failed")
}

func TestSerialMux_CloseClosesSubscribersAndPort(t *testing.T) {
	port := NewFakePort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.IsClosed())
	assert.NoError(t, mux.Close(), "second Close is a no-op")
}

func TestSerialMux_TailRoute(t *testing.T) {
	port := NewFakePort()
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	srv := httptest.NewServer(http.HandlerFunc(mux.ServeTail))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	// The handler subscribes before writing the ping, so this line is seen.
	port.Feed("$GPGGA,tail\r\n")
	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Equal(t, "data: $GPGGA,tail\n", line)
}

func TestPortOptions_Mode(t *testing.T) {
	mode, err := PortOptions{}.Mode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, mode)

	mode, err = PortOptions{BaudRate: 9600, Framing: "7e2"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	for _, bad := range []string{"9N1", "8X1", "8N3", "8N", "8N1.5"} {
		_, err := PortOptions{Framing: bad}.Mode()
		assert.Error(t, err, bad)
	}
}
