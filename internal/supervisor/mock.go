package supervisor

import (
	"context"
	"sync"
)

// MockProcess is a scripted Process for tests. Terminate and Kill make it
// exit unless told to ignore them.
type MockProcess struct {
	PID int
	// IgnoreTerminate keeps the process alive after Terminate.
	IgnoreTerminate bool
	// IgnoreKill keeps the process alive after Kill.
	IgnoreKill bool
	// ExitErr is reported by Err after exit.
	ExitErr error

	mu    sync.Mutex
	calls []string
	done  chan struct{}
	once  sync.Once
}

// NewMockProcess creates a live MockProcess.
func NewMockProcess(pid int) *MockProcess {
	return &MockProcess{PID: pid, done: make(chan struct{})}
}

// Exit simulates the process dying on its own.
func (p *MockProcess) Exit() {
	p.once.Do(func() { close(p.done) })
}

// Record appends an external event, such as a quit command, to the call
// log so tests can assert the full shutdown sequence.
func (p *MockProcess) Record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

// Calls returns the recorded calls in order.
func (p *MockProcess) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *MockProcess) Pid() int { return p.PID }

func (p *MockProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *MockProcess) Terminate() error {
	if !p.Alive() {
		return nil
	}
	p.Record("terminate")
	if !p.IgnoreTerminate {
		p.Exit()
	}
	return nil
}

func (p *MockProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	p.Record("kill")
	if !p.IgnoreKill {
		p.Exit()
	}
	return nil
}

func (p *MockProcess) Done() <-chan struct{} { return p.done }

func (p *MockProcess) Err() error {
	if p.Alive() {
		return nil
	}
	return p.ExitErr
}

// MockLauncher hands out MockProcesses.
type MockLauncher struct {
	// Err, when set, makes Launch fail.
	Err error
	// Next, when set, builds each process; otherwise pids count from 100.
	Next func() *MockProcess

	mu       sync.Mutex
	launched []*MockProcess
}

// Launch returns the next MockProcess or Err.
func (l *MockLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var p *MockProcess
	if l.Next != nil {
		p = l.Next()
	} else {
		p = NewMockProcess(100 + len(l.launched))
	}
	l.launched = append(l.launched, p)
	return p, nil
}

// Launched returns every process handed out so far.
func (l *MockLauncher) Launched() []*MockProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockProcess(nil), l.launched...)
}
