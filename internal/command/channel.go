package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/timeutil"
)

// Reply strings the acquisition process sends back.
const (
	ReplyOK    = "OK"
	ReplyError = "ERROR"
)

var (
	// ErrTimeout matches any *TimeoutError via errors.Is.
	ErrTimeout = errors.New("command timed out")
	// ErrBusy is returned when Send is called while another request is
	// still outstanding.
	ErrBusy = errors.New("command already in flight")
	// ErrClosed is returned by transports after Close or when the peer
	// has gone away.
	ErrClosed = errors.New("command transport closed")
)

// TimeoutError reports a request that got no reply in time. The caller
// must not assume the command took effect.
type TimeoutError struct {
	Command Command
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply to %q after %s", e.Command.String(), e.After)
}

// Is lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Transport carries one request body and returns the first reply line.
// Request must return promptly once ctx is done.
type Transport interface {
	Request(ctx context.Context, body string) (string, error)
	Close() error
}

// Exchange is one completed request, successful or not.
type Exchange struct {
	At       time.Time
	Command  Command
	Reply    string
	Err      error
	Duration time.Duration
}

// Observer is notified of every exchange. The journal implements it.
type Observer interface {
	ObserveCommand(Exchange)
}

// Channel is the synchronous command channel. It is safe to call Send from
// multiple goroutines, but only one call proceeds at a time; the others
// fail fast with ErrBusy.
type Channel struct {
	transport Transport
	timeout   time.Duration
	clock     timeutil.Clock
	observer  Observer
	busy      atomic.Bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock sets the clock used to timestamp exchanges.
func WithClock(c timeutil.Clock) Option {
	return func(ch *Channel) { ch.clock = c }
}

// WithObserver registers an exchange observer.
func WithObserver(o Observer) Option {
	return func(ch *Channel) { ch.observer = o }
}

// NewChannel creates a Channel that waits at most timeout for each reply.
func NewChannel(t Transport, timeout time.Duration, opts ...Option) *Channel {
	ch := &Channel{
		transport: t,
		timeout:   timeout,
		clock:     timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Send writes cmd and blocks until a reply arrives, the timeout elapses, or
// ctx is cancelled. Any reply line acknowledges the command; an ERROR
// reply is logged but still returned without error.
func (c *Channel) Send(ctx context.Context, cmd Command) (string, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer c.busy.Store(false)

	start := c.clock.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.transport.Request(reqCtx, cmd.String())
	reply = strings.TrimSpace(reply)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%s: %w", cmd.Verb, ctx.Err())
		case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			err = &TimeoutError{Command: cmd, After: c.timeout}
		default:
			err = fmt.Errorf("%s: %w", cmd.Verb, err)
		}
	}

	if c.observer != nil {
		c.observer.ObserveCommand(Exchange{
			At:       start,
			Command:  cmd,
			Reply:    reply,
			Err:      err,
			Duration: c.clock.Since(start),
		})
	}

	if err != nil {
		return "", err
	}
	if reply == ReplyError {
		monitoring.Warnf("command %q answered %s", cmd.String(), reply)
	} else {
		monitoring.Debugf("command %q answered %s", cmd.String(), reply)
	}
	return reply, nil
}

// Close closes the transport.
func (c *Channel) Close() error {
	return c.transport.Close()
}
