package autopilot

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/autopilot/internal/command"
	"github.com/banshee-data/autopilot/internal/config"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/supervisor"
)

// The acquisition process needs a moment after spawning before its
// command socket accepts connections.
const (
	dialAttempts = 10
	dialDelay    = time.Second
)

// NewTransportFactory returns the factory for the configured transport.
func NewTransportFactory(cfg config.CommandConfig) TransportFactory {
	switch cfg.Transport {
	case config.TransportTCP:
		return func(ctx context.Context, _ supervisor.Process) (command.Transport, error) {
			return dialRetry(ctx, "tcp "+cfg.Addr, func(ctx context.Context) (command.Transport, error) {
				return command.DialTCP(ctx, cfg.Addr)
			})
		}
	case config.TransportMQTT:
		return func(ctx context.Context, _ supervisor.Process) (command.Transport, error) {
			return command.DialMQTT(ctx, cfg.Broker, cfg.RequestTopic, cfg.ReplyTopic)
		}
	default:
		return StdioTransport
	}
}

// StdioTransport speaks the command protocol over the process's stdin and
// stdout.
func StdioTransport(_ context.Context, p supervisor.Process) (command.Transport, error) {
	pipes, ok := p.(supervisor.Pipes)
	if !ok || pipes.Stdin() == nil || pipes.Stdout() == nil {
		return nil, fmt.Errorf("pid %d has no command pipes", p.Pid())
	}
	return command.NewStreamTransport(pipes.Stdin(), pipes.Stdout()), nil
}

func dialRetry(ctx context.Context, what string, dial func(context.Context) (command.Transport, error)) (command.Transport, error) {
	var lastErr error
	for i := 0; i < dialAttempts; i++ {
		tr, err := dial(ctx)
		if err == nil {
			return tr, nil
		}
		lastErr = err
		monitoring.Debugf("autopilot: dial %s (attempt %d): %v", what, i+1, err)

		timer := time.NewTimer(dialDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("dial %s: %w", what, lastErr)
}
