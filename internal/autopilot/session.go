// Package autopilot runs the controller: one Session per acquisition
// process lifetime, and a Runner that starts sessions until told to stop.
package autopilot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/banshee-data/autopilot/internal/command"
	"github.com/banshee-data/autopilot/internal/feed"
	"github.com/banshee-data/autopilot/internal/fsutil"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/pilot"
	"github.com/banshee-data/autopilot/internal/status"
	"github.com/banshee-data/autopilot/internal/supervisor"
	"github.com/banshee-data/autopilot/internal/timeutil"
)

// Event kinds recorded by the loop.
const (
	EventProcessStarted = "process_started"
	EventProcessExited  = "process_exited"
	EventWatchdog       = "watchdog"
	EventRestart        = "restart"
	EventFeedLost       = "feed_lost"
)

// Timing holds the loop intervals.
type Timing struct {
	// CheckInterval is the decision tick.
	CheckInterval time.Duration
	// Restart is how long the heartbeat may be silent while pinging.
	Restart time.Duration
	// CmdTimeout bounds every command acknowledgement.
	CmdTimeout time.Duration
	// PollTimeout bounds each wait for an event.
	PollTimeout time.Duration
}

// Flags are the files shared with external monitors.
type Flags struct {
	FS       fsutil.FileSystem
	Run      string
	Stop     string
	Liveness string
}

// KeepRunning reports whether the run flag exists and the stop flag does
// not.
func (f Flags) KeepRunning() bool {
	return f.FS.Exists(f.Run) && !f.FS.Exists(f.Stop)
}

// TransportFactory opens the command transport to a freshly spawned
// acquisition process.
type TransportFactory func(ctx context.Context, p supervisor.Process) (command.Transport, error)

// Journal records commands and events. It is optional.
type Journal interface {
	command.Observer
	pilot.Recorder
}

// Session wires the feeds, the pilot and the supervised process together
// for one acquisition process lifetime. Its collaborators are reused
// across sessions; the pilot is rebuilt each time because a new process
// starts with no cruise open.
type Session struct {
	Pilot      pilot.Config
	Timing     Timing
	Supervisor *supervisor.Supervisor
	Transport  TransportFactory
	GPSNav     feed.Source
	Heartbeat  feed.Source
	Flags      Flags

	// Optional.
	Clock   timeutil.Clock
	Status  status.Publisher
	Journal Journal
}

func (s *Session) clock() timeutil.Clock {
	if s.Clock == nil {
		return timeutil.RealClock{}
	}
	return s.Clock
}

func (s *Session) record(kind, detail string) {
	if s.Journal != nil {
		s.Journal.RecordEvent(kind, detail)
	}
}

func (s *Session) keepRunning(ctx context.Context) bool {
	if ctx.Err() != nil {
		monitoring.Infof("autopilot: shutdown requested")
		return false
	}
	if !s.Flags.KeepRunning() {
		monitoring.Infof("autopilot: run flag removed or stop flag present")
		return false
	}
	return true
}

// Run spawns the acquisition process and drives the pilot until the
// process must be restarted (restart is true), the keep-running condition
// fails, or ctx is cancelled. A spawn, transport or feed failure is
// returned as err and is fatal. The process is always shut down before
// Run returns.
func (s *Session) Run(ctx context.Context) (restart bool, err error) {
	proc, err := s.Supervisor.Start(ctx)
	if err != nil {
		return false, err
	}
	s.record(EventProcessStarted, "pid "+strconv.Itoa(proc.Pid()))
	exited := s.Supervisor.Exited()

	var ch *command.Channel
	defer func() {
		quit := func(qctx context.Context) error {
			if ch == nil {
				return supervisor.ErrNotRunning
			}
			_, err := ch.Send(qctx, command.Quit())
			return err
		}
		final := s.Supervisor.Shutdown(ctx, quit, restart)
		if ch != nil {
			if err := ch.Close(); err != nil {
				monitoring.Debugf("autopilot: closing command channel: %v", err)
			}
		}
		monitoring.Infof("autopilot: ending acquisition run, restart is %t (%s)", restart, final)
	}()

	tr, err := s.Transport(ctx, proc)
	if err != nil {
		return false, fmt.Errorf("failed to open command transport: %w", err)
	}
	opts := []command.Option{command.WithClock(s.clock())}
	if s.Journal != nil {
		opts = append(opts, command.WithObserver(s.Journal))
	}
	ch = command.NewChannel(tr, s.Timing.CmdTimeout, opts...)

	fixes, err := s.GPSNav.Start(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to start gpsnav feed: %w", err)
	}
	defer s.GPSNav.Close()

	beats, err := s.Heartbeat.Start(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to start heartbeat feed: %w", err)
	}
	defer s.Heartbeat.Close()

	cfg := s.Pilot
	cfg.Clock = s.clock()
	if s.Journal != nil {
		cfg.Recorder = s.Journal
	}
	l := &loop{
		s:      s,
		pilot:  pilot.New(cfg, ch),
		fixes:  fixes,
		beats:  beats,
		exited: exited,
	}
	return l.run(ctx), nil
}

// loop is the per-session event loop state.
type loop struct {
	s      *Session
	pilot  *pilot.Pilot
	fixes  <-chan string
	beats  <-chan string
	exited <-chan struct{}
	ticker timeutil.Ticker
}

func (l *loop) run(ctx context.Context) bool {
	clock := l.s.clock()
	l.ticker = clock.NewTicker(l.s.Timing.CheckInterval)
	defer l.ticker.Stop()

	for l.s.keepRunning(ctx) {
		if err := l.s.Flags.FS.Touch(l.s.Flags.Liveness, clock.Now()); err != nil {
			monitoring.Warnf("autopilot: touch %s: %v", l.s.Flags.Liveness, err)
		}
		if restart, done := l.cycle(ctx); done {
			return restart
		}
	}
	return false
}

// cycle waits for one event and handles it. done ends the session; a
// panic anywhere in the cycle ends it with a restart.
func (l *loop) cycle(ctx context.Context) (restart, done bool) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Errorf("autopilot: panic in main loop: %v\n%s", r, debug.Stack())
			restart, done = true, true
		}
	}()

	clock := l.s.clock()
	select {
	case <-ctx.Done():
		return false, true

	case <-l.exited:
		monitoring.Warnf("autopilot: acquisition process died")
		l.s.record(EventProcessExited, l.exitDetail())
		return true, true

	case msg, ok := <-l.fixes:
		if !ok {
			monitoring.Errorf("autopilot: gpsnav feed closed")
			l.s.record(EventFeedLost, "gpsnav")
			return true, true
		}
		l.pilot.HandleFix(msg)

	case _, ok := <-l.beats:
		if !ok {
			monitoring.Errorf("autopilot: heartbeat feed closed")
			l.s.record(EventFeedLost, "heartbeat")
			return true, true
		}
		l.pilot.HandleHeartbeat()

	case <-l.ticker.C():
		l.tick(ctx)

	case <-clock.After(l.s.Timing.PollTimeout):
		monitoring.Debugf("autopilot: nothing received")
	}

	if l.pilot.Pinging() {
		if age := l.pilot.HeartbeatAge(); age > l.s.Timing.Restart {
			monitoring.Warnf("autopilot: no heartbeat for %s while pinging; stuck, restarting", age.Round(time.Second))
			l.s.record(EventWatchdog, "heartbeat age "+age.Round(time.Second).String())
			return true, true
		}
	}
	return false, false
}

func (l *loop) tick(ctx context.Context) {
	ok := l.pilot.Update()
	if ok {
		if err := l.pilot.Steer(ctx); err != nil {
			// Left unapplied; the next tick decides again.
			monitoring.Warnf("autopilot: steer: %v", err)
		}
	}
	if l.s.Status != nil {
		snap := l.pilot.Snapshot()
		if snap.HasFix {
			if err := l.s.Status.Publish(snap); err != nil {
				monitoring.Warnf("autopilot: publish status: %v", err)
			}
		}
	}
}

func (l *loop) exitDetail() string {
	p := l.s.Supervisor.Process()
	if p == nil {
		return ""
	}
	if err := p.Err(); err != nil {
		return fmt.Sprintf("pid %d: %v", p.Pid(), err)
	}
	return fmt.Sprintf("pid %d", p.Pid())
}
