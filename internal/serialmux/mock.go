package serialmux

import (
	"bytes"
	"io"
	"sync"
)

// FakePort is an in-memory SerialPorter for tests. Data queued with Feed
// is returned by Read, which blocks while nothing is queued; writes are
// recorded.
type FakePort struct {
	mu       sync.Mutex
	pending  []byte
	written  bytes.Buffer
	readErr  error
	writeErr error
	closed   bool
	wake     chan struct{}
}

// NewFakePort returns an open FakePort.
func NewFakePort() *FakePort {
	return &FakePort{wake: make(chan struct{}, 1)}
}

func (p *FakePort) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Feed queues data for Read.
func (p *FakePort) Feed(data string) {
	p.mu.Lock()
	p.pending = append(p.pending, data...)
	p.mu.Unlock()
	p.signal()
}

// FailRead makes the next Read, or one already blocked, return err once
// the queued data is consumed.
func (p *FakePort) FailRead(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.signal()
}

// FailWrite makes the next Write return err.
func (p *FakePort) FailWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *FakePort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		switch {
		case len(p.pending) > 0:
			n := copy(b, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		case p.readErr != nil:
			err := p.readErr
			p.readErr = nil
			p.mu.Unlock()
			return 0, err
		case p.closed:
			p.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		p.mu.Unlock()
		<-p.wake
	}
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if err := p.writeErr; err != nil {
		p.writeErr = nil
		return 0, err
	}
	return p.written.Write(b)
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
	return nil
}

// Written returns everything written so far.
func (p *FakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// IsClosed reports whether Close was called.
func (p *FakePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
