package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autopilot/internal/config"
	"github.com/banshee-data/autopilot/internal/fsutil"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

const testConfig = `// test ship
{
  "cruise_prefix": "KM",
  "speed_units": "kn",
  "instruments": ["wh300"],
  "regions": [
    {"name": "default", "cmdfiles": {"wh300": "wh300_default.cmd"}, "min_speed": 2},
    {"name": "Harbor", "in_port": true, "poly": [[0, 0], [1, 0], [1, 1]]},
  ],
  "gpsnav": {"kind": "udp", "addr": "127.0.0.1:0"},
  "heartbeat": {"kind": "udp", "addr": "127.0.0.1:0"},
  "das": {"path": "/bin/true"},
}
`

func writeConfig(t *testing.T) (path, flagDir string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "autopilot_cfg.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path, filepath.Join(dir, "flags")
}

func TestParseFlags_Defaults(t *testing.T) {
	o, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigPath, o.configPath)
	assert.Equal(t, "127.0.0.1:8088", o.listen)
	assert.False(t, o.stop)

	_, err = parseFlags([]string{"extra"})
	assert.ErrorContains(t, err, "unexpected argument")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out))
	assert.Contains(t, out.String(), "autopilot")
}

func TestRun_MissingConfigIsNotAnError(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"--config", filepath.Join(t.TempDir(), "absent.jsonc")}, &out)
	assert.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"instruments": []}`), 0o644))
	err := run([]string{"--config", path, "--check-config"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "instrument")
}

func TestRun_CheckConfig(t *testing.T) {
	path, flagDir := writeConfig(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"--config", path, "--flag-dir", flagDir, "--check-config"}, &out))

	s := out.String()
	assert.Contains(t, s, `"name": "Harbor"`)
	assert.Contains(t, s, `"effective_median_window": 60`)
	assert.Contains(t, s, filepath.Join(flagDir, "autopilot.running"))
	// 2 knots in m/s.
	assert.Contains(t, s, `"min_speed_mps": 1.0288`)
}

func TestRun_QueryNotRunning(t *testing.T) {
	path, flagDir := writeConfig(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"--config", path, "--flag-dir", flagDir, "--query"}, &out))
	assert.Equal(t, "autopilot is not running\n", out.String())
}

type fakePids struct {
	aliveFor atomic.Int32 // alive checks answered true before the process goes
	forever  bool
	killed   atomic.Int32
}

func (f *fakePids) alive(int) bool {
	if f.forever {
		return true
	}
	return f.aliveFor.Add(-1) >= 0
}

func (f *fakePids) kill(pid int) error {
	f.killed.Store(int32(pid))
	return nil
}

var queryEpoch = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func newTestController(t *testing.T, pids *fakePids) (*controller, *fsutil.MemoryFileSystem) {
	t.Helper()
	mem := fsutil.NewMemoryFileSystem()
	c := newController(mem, "/flags/autopilot.running", "/flags/autopilot.stop", "/flags/autopilot.alive")
	c.alive = pids.alive
	c.kill = pids.kill
	c.interval = time.Millisecond
	return c, mem
}

func TestController_Query(t *testing.T) {
	pids := &fakePids{forever: true}
	c, mem := newTestController(t, pids)
	c.clock = timeutil.NewMockClock(queryEpoch)
	require.NoError(t, mem.WriteFile(c.runFlag, []byte("1234\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, c.query(&out))
	assert.Equal(t, "autopilot is running as pid 1234\n"+
		"liveness file /flags/autopilot.alive has not been written\n", out.String())

	require.NoError(t, mem.Touch(c.liveness, queryEpoch.Add(-42*time.Second)))
	out.Reset()
	require.NoError(t, c.query(&out))
	assert.Equal(t, "autopilot is running as pid 1234\n"+
		"liveness file /flags/autopilot.alive last touched 42s ago\n", out.String())

	pids.forever = false
	out.Reset()
	require.NoError(t, c.query(&out))
	assert.Contains(t, out.String(), "not alive")

	require.NoError(t, mem.WriteFile(c.runFlag, []byte("garbage"), 0o644))
	assert.ErrorContains(t, c.query(&out), "bad pid")
}

func TestController_StopRemovesStaleRunFlag(t *testing.T) {
	c, mem := newTestController(t, &fakePids{})
	require.NoError(t, mem.WriteFile(c.runFlag, []byte("1234\n"), 0o644))

	require.NoError(t, c.stop(context.Background()))
	assert.False(t, mem.Exists(c.runFlag))
	assert.False(t, mem.Exists(c.stopFlag))
}

func TestController_StopWaitsForExit(t *testing.T) {
	pids := &fakePids{}
	pids.aliveFor.Store(4)
	c, mem := newTestController(t, pids)
	require.NoError(t, mem.WriteFile(c.runFlag, []byte("1234\n"), 0o644))

	require.NoError(t, c.stop(context.Background()))
	assert.True(t, mem.Exists(c.stopFlag), "the exiting instance clears its own flags")
	assert.Zero(t, pids.killed.Load())
}

func TestController_StopKillsStuckInstance(t *testing.T) {
	pids := &fakePids{forever: true}
	c, mem := newTestController(t, pids)
	require.NoError(t, mem.WriteFile(c.runFlag, []byte("1234\n"), 0o644))

	require.NoError(t, c.stop(context.Background()))
	assert.Equal(t, int32(1234), pids.killed.Load())
	assert.False(t, mem.Exists(c.runFlag))
	assert.False(t, mem.Exists(c.stopFlag))
}

func TestController_StopNothingRunning(t *testing.T) {
	c, mem := newTestController(t, &fakePids{})
	require.NoError(t, c.stop(context.Background()))
	assert.False(t, mem.Exists(c.stopFlag))
}
