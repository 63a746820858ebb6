package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/autopilot/internal/fsutil"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/supervisor"
	"github.com/banshee-data/autopilot/internal/timeutil"
)

// A running controller gets this long to notice the stop flag and shut
// its acquisition process down before it is killed.
const (
	stopPolls    = 50
	stopInterval = 500 * time.Millisecond
)

// controller talks to another autopilot instance through the flag files.
type controller struct {
	fs       fsutil.FileSystem
	clock    timeutil.Clock
	runFlag  string
	stopFlag string
	liveness string

	alive    func(pid int) bool
	kill     func(pid int) error
	interval time.Duration
}

func newController(fsys fsutil.FileSystem, runFlag, stopFlag, liveness string) *controller {
	return &controller{
		fs:       fsys,
		clock:    timeutil.RealClock{},
		runFlag:  runFlag,
		stopFlag: stopFlag,
		liveness: liveness,
		alive:    supervisor.ProcessAlive,
		kill:     func(pid int) error { return unix.Kill(pid, unix.SIGKILL) },
		interval: stopInterval,
	}
}

// pid reads the PID from the run flag. It returns 0 with no error when
// there is no run flag.
func (c *controller) pid() (int, error) {
	b, err := c.fs.ReadFile(c.runFlag)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("run flag %s: bad pid %q", c.runFlag, strings.TrimSpace(string(b)))
	}
	return pid, nil
}

// query writes the running instance's PID and liveness to w.
func (c *controller) query(w io.Writer) error {
	pid, err := c.pid()
	if err != nil {
		return err
	}
	switch {
	case pid == 0:
		fmt.Fprintln(w, "autopilot is not running")
	case c.alive(pid):
		fmt.Fprintf(w, "autopilot is running as pid %d\n", pid)
		c.reportLiveness(w)
	default:
		fmt.Fprintf(w, "autopilot pid %d is not alive (stale run flag %s)\n", pid, c.runFlag)
	}
	return nil
}

// reportLiveness says how long ago the main loop last touched the
// liveness file. A growing age means the loop is stuck even though the
// process is alive.
func (c *controller) reportLiveness(w io.Writer) {
	if c.liveness == "" {
		return
	}
	mtime, err := c.fs.ModTime(c.liveness)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(w, "liveness file %s has not been written\n", c.liveness)
	case err != nil:
		fmt.Fprintf(w, "liveness file %s: %v\n", c.liveness, err)
	default:
		age := c.clock.Now().Sub(mtime).Round(time.Second)
		fmt.Fprintf(w, "liveness file %s last touched %s ago\n", c.liveness, age)
	}
}

// stop asks a running instance to exit by creating the stop flag, waits
// for it, and kills it if it does not go. A stale run flag is removed.
func (c *controller) stop(ctx context.Context) error {
	pid, err := c.pid()
	if err != nil {
		return err
	}
	if pid == 0 {
		monitoring.Infof("no autopilot running")
		return nil
	}
	if !c.alive(pid) {
		monitoring.Infof("removing stale run flag for pid %d", pid)
		return c.fs.Remove(c.runFlag)
	}

	monitoring.Infof("stopping autopilot pid %d", pid)
	if err := c.fs.WriteFile(c.stopFlag, nil, 0o644); err != nil {
		return fmt.Errorf("failed to write stop flag: %w", err)
	}
	for i := 0; i < stopPolls; i++ {
		if !c.alive(pid) {
			monitoring.Infof("autopilot pid %d stopped", pid)
			return nil
		}
		select {
		case <-c.clock.After(c.interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	monitoring.Warnf("autopilot pid %d ignored the stop flag; killing it", pid)
	if err := c.kill(pid); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	// The killed instance cannot clean up after itself.
	if err := c.fs.Remove(c.runFlag); err != nil {
		return err
	}
	return c.fs.Remove(c.stopFlag)
}
