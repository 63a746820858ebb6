package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/timeutil"
)

// State is the supervisor's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	ShutdownRequested
	Terminating
	Killed
	Stopped
	Restarting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ShutdownRequested:
		return "shutdown_requested"
	case Terminating:
		return "terminating"
	case Killed:
		return "killed"
	case Stopped:
		return "stopped"
	case Restarting:
		return "restarting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotRunning is returned when an operation needs a live process.
	ErrNotRunning = errors.New("acquisition process not running")
	// ErrAlreadyRunning is returned by Start while a process is supervised.
	ErrAlreadyRunning = errors.New("acquisition process already running")
)

// killWait bounds the wait for the kernel to reap a SIGKILLed process.
const killWait = 5 * time.Second

// Supervisor runs one acquisition process at a time.
type Supervisor struct {
	launcher Launcher
	clock    timeutil.Clock
	grace    time.Duration

	mu           sync.Mutex
	state        State
	proc         Process
	onTransition func(from, to State)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for grace periods.
func WithClock(c timeutil.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithTransitionHook registers a callback run on every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(s *Supervisor) { s.onTransition = fn }
}

// New creates a Supervisor. grace is how long a terminated process may
// take to exit before it is killed.
func New(l Launcher, grace time.Duration, opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher: l,
		clock:    timeutil.RealClock{},
		grace:    grace,
		state:    Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Process returns the supervised process, or nil before Start.
func (s *Supervisor) Process() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Exited returns a channel closed when the supervised process exits. It
// is nil (blocks forever) when nothing is running.
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || s.state != Running {
		return nil
	}
	return s.proc.Done()
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	hook := s.onTransition
	s.mu.Unlock()
	if from == to {
		return
	}
	monitoring.Debugf("supervisor: %s -> %s", from, to)
	if hook != nil {
		hook(from, to)
	}
}

// Start spawns the acquisition process.
func (s *Supervisor) Start(ctx context.Context) (Process, error) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.mu.Unlock()

	p, err := s.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn acquisition process: %w", err)
	}

	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()
	s.setState(Running)
	monitoring.Infof("supervisor: started acquisition process pid %d", p.Pid())
	return p, nil
}

// Shutdown stops the supervised process: quit (if still alive), then
// SIGTERM and up to the grace period, then SIGKILL. Every step is skipped
// once the process is gone, so calling it on a dead process is safe.
// The final state is Restarting when restart is true, else Stopped.
//
// quit gets a context detached from ctx's cancellation, because a user
// shutdown cancels ctx but the quit command must still be sent.
func (s *Supervisor) Shutdown(ctx context.Context, quit func(context.Context) error, restart bool) State {
	final := Stopped
	if restart {
		final = Restarting
	}

	p := s.Process()
	if p == nil {
		s.setState(final)
		return final
	}

	s.setState(ShutdownRequested)
	if p.Alive() && quit != nil {
		if err := quit(context.WithoutCancel(ctx)); err != nil {
			monitoring.Warnf("supervisor: quit command failed: %v", err)
		}
	}

	if p.Alive() {
		s.setState(Terminating)
		if err := p.Terminate(); err != nil {
			monitoring.Warnf("supervisor: %v", err)
		}
		if !s.wait(p, s.grace) {
			monitoring.Warnf("supervisor: pid %d still alive after %s", p.Pid(), s.grace)
		}
	}

	if p.Alive() {
		s.setState(Killed)
		if err := p.Kill(); err != nil {
			monitoring.Errorf("supervisor: %v", err)
		}
		if !s.wait(p, killWait) {
			monitoring.Errorf("supervisor: pid %d survived SIGKILL", p.Pid())
		}
	}

	if !p.Alive() {
		monitoring.Infof("supervisor: acquisition process pid %d exited: %v", p.Pid(), p.Err())
	}
	s.setState(final)
	return final
}

// wait blocks until p exits or d elapses on the supervisor's clock.
func (s *Supervisor) wait(p Process, d time.Duration) bool {
	select {
	case <-p.Done():
		return true
	case <-s.clock.After(d):
		return !p.Alive()
	}
}
