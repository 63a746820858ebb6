package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/banshee-data/autopilot/internal/monitoring"
)

const replyBuffer = 16

// StreamTransport speaks the line protocol over a byte stream: the
// acquisition process's stdin/stdout pipes or a TCP connection.
type StreamTransport struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	lines  chan string

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	readErr   error
}

// NewStreamTransport writes requests to w and reads replies from r. If w
// implements io.Closer it is closed by Close. If r does, it is closed once
// reading ends.
func NewStreamTransport(w io.Writer, r io.Reader) *StreamTransport {
	t := &StreamTransport{
		w:     w,
		lines: make(chan string, replyBuffer),
		done:  make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	go t.readLoop(r)
	return t
}

// DialTCP connects to a command server speaking the line protocol.
func DialTCP(ctx context.Context, addr string) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial command server %s: %w", addr, err)
	}
	return NewStreamTransport(conn, conn), nil
}

func (t *StreamTransport) readLoop(r io.Reader) {
	defer close(t.lines)
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case t.lines <- line:
		default:
			// Nobody is waiting and the buffer is full; the peer must
			// not block on its own output.
			monitoring.Debugf("command stream: dropping unsolicited line %q", line)
		}
	}
	t.errMu.Lock()
	t.readErr = scanner.Err()
	t.errMu.Unlock()
}

// Request discards any stale replies, writes body, and returns the next
// reply line.
func (t *StreamTransport) Request(ctx context.Context, body string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return "", ErrClosed
	default:
	}

	t.drain()

	if _, err := io.WriteString(t.w, body+"\n"); err != nil {
		return "", fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", t.closedErr()
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
		return "", ErrClosed
	}
}

// drain drops replies that arrived after an earlier request timed out.
func (t *StreamTransport) drain() {
	for {
		select {
		case line, ok := <-t.lines:
			if !ok {
				return
			}
			monitoring.Debugf("command stream: discarding stale reply %q", line)
		default:
			return
		}
	}
}

func (t *StreamTransport) closedErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, t.readErr)
	}
	return ErrClosed
}

// Close stops accepting requests and closes the writer if it can be closed.
func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.closer != nil {
			err = t.closer.Close()
		}
	})
	return err
}
