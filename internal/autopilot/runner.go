package autopilot

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/autopilot/internal/monitoring"
)

// Runner restarts sessions until one ends without asking for a restart.
type Runner struct {
	Session *Session
	// RestartDelay pauses between sessions so a process that dies at
	// once is not respawned in a tight loop.
	RestartDelay time.Duration
	// PID is written to the run flag; defaults to os.Getpid().
	PID int
}

// Run writes the run flag, clears any stale stop flag and runs sessions.
// The run flag is removed on return. Only startup failures are returned.
func (r *Runner) Run(ctx context.Context) error {
	s := r.Session
	fs := s.Flags.FS

	pid := r.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	if err := fs.Remove(s.Flags.Stop); err != nil {
		return fmt.Errorf("failed to clear stop flag: %w", err)
	}
	if err := fs.WriteFile(s.Flags.Run, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write run flag: %w", err)
	}
	defer func() {
		if err := fs.Remove(s.Flags.Run); err != nil {
			monitoring.Warnf("autopilot: remove run flag: %v", err)
		}
	}()

	monitoring.Infof("autopilot: running as pid %d", pid)
	restart := true
	for restart && s.keepRunning(ctx) {
		var err error
		restart, err = s.Run(ctx)
		if err != nil {
			return err
		}
		if restart {
			s.record(EventRestart, "")
			if !r.pause(ctx) {
				break
			}
		}
	}
	monitoring.Infof("autopilot: stopped")
	return nil
}

func (r *Runner) pause(ctx context.Context) bool {
	if r.RestartDelay <= 0 {
		return true
	}
	monitoring.Infof("autopilot: restarting in %s", r.RestartDelay)
	select {
	case <-r.Session.clock().After(r.RestartDelay):
		return true
	case <-ctx.Done():
		return false
	}
}
