package autopilot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autopilot/internal/supervisor"
)

func TestRunner_RestartsUntilRunFlagRemoved(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.fs.WriteFile(stopFlag, nil, 0o644))

	var pidFile string
	launches := 0
	e.launcher.Next = func() *supervisor.MockProcess {
		launches++
		if launches == 1 {
			b, err := e.fs.ReadFile(runFlag)
			require.NoError(t, err)
			pidFile = string(b)
		}
		if launches == 3 {
			require.NoError(t, e.fs.Remove(runFlag))
		}
		p := supervisor.NewMockProcess(200 + launches)
		p.Exit()
		return p
	}

	r := &Runner{Session: e.session, PID: 4242}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, "4242\n", pidFile)
	assert.Len(t, e.launcher.Launched(), 3)
	assert.False(t, e.fs.Exists(runFlag))
	assert.False(t, e.fs.Exists(stopFlag), "stale stop flag is cleared at start")

	restarts := 0
	for _, k := range e.journal.kinds() {
		if k == EventRestart {
			restarts++
		}
	}
	assert.Equal(t, 2, restarts)
	assert.Equal(t, 3, e.nav.starts)
	assert.Equal(t, 3, e.nav.closes)
}

func TestRunner_SpawnFailureRemovesRunFlag(t *testing.T) {
	e := newEnv(t)
	e.launcher.Err = errors.New("exec format error")

	r := &Runner{Session: e.session, PID: 1}
	err := r.Run(context.Background())
	assert.ErrorContains(t, err, "exec format error")
	assert.False(t, e.fs.Exists(runFlag))
}

func TestRunner_CancelDuringRestartDelay(t *testing.T) {
	e := newEnv(t)
	e.launcher.Next = func() *supervisor.MockProcess {
		p := supervisor.NewMockProcess(300)
		p.Exit()
		return p
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &Runner{Session: e.session, RestartDelay: time.Hour, PID: 1}
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, k := range e.journal.kinds() {
			if k == EventRestart {
				return true
			}
		}
		return false
	}, waitFor, pollEvery)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("runner did not stop")
	}
	assert.Len(t, e.launcher.Launched(), 1)
	assert.False(t, e.fs.Exists(runFlag))
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Session: e.session, PID: 1}
	require.NoError(t, r.Run(ctx))
	assert.Empty(t, e.launcher.Launched())
}
