package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalJSON = `{
  "instruments": ["wh300"],
  "regions": [{"name": "default", "cmdfiles": {"wh300": "d.cmd"}}],
  "gpsnav": {"kind": "udp", "addr": ":5000"},
  "heartbeat": {"kind": "mqtt", "broker": "tcp://localhost:1883", "topic": "ping"},
  "das": {"path": "/bin/cat"}
}`

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := LoadAutopilotConfig("../../config/autopilot.example.jsonc")
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.GetMedianWindow())
	assert.Equal(t, 10*time.Second, cfg.GetCheckInterval())
	assert.Equal(t, []string{"wh300", "os75"}, cfg.Instruments)
	assert.Equal(t, FeedSerial, cfg.GPSNav.Kind)
	assert.Equal(t, "$GPGGA", cfg.GPSNav.Prefix)

	m, err := cfg.Model()
	require.NoError(t, err)
	regions := m.Regions()
	require.Len(t, regions, 3)
	assert.Equal(t, "default", m.Default().Name)
	assert.True(t, regions[1].InPort)
	assert.InDelta(t, 2.0, regions[2].MinSpeed, 1e-12)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalJSON))
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.GetMedianWindow())
	assert.Equal(t, 10*time.Second, cfg.GetCheckInterval())
	assert.Equal(t, 30*time.Second, cfg.GetRestart())
	assert.Equal(t, 30*time.Second, cfg.GetCmdTimeout())
	assert.Equal(t, 2*time.Second, cfg.GetPollTimeout())
	assert.Equal(t, 60*time.Second, cfg.GetTermGrace())
	assert.Equal(t, "mps", cfg.GetSpeedUnits())
	assert.Equal(t, "/home/adcp/flags/autopilot.running", cfg.RunFlagPath())
	assert.Equal(t, "/home/adcp/flags/autopilot.stop", cfg.StopFlagPath())
	assert.Equal(t, cfg.RunFlagPath(), cfg.GetLivenessFile())
}

func TestParse_CommentsAndTrailingCommas(t *testing.T) {
	data := `{
  // tuning
  "median_window": 30, /* shorter window */
  "check_interval": "5s",
  "instruments": ["wh300",],
  "regions": [{"name": "default", "cmdfiles": {"wh300": "d.cmd"},},],
  "gpsnav": {"kind": "udp", "addr": ":5000"},
  "heartbeat": {"kind": "udp", "addr": ":5001"},
  "das": {"path": "/bin/cat"},
}`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.GetMedianWindow())
	assert.Equal(t, 5*time.Second, cfg.GetCheckInterval())
}

func TestParse_SpeedUnitsConvertMinSpeed(t *testing.T) {
	data := strings.Replace(minimalJSON, `"instruments"`, `"speed_units": "kn", "instruments"`, 1)
	data = strings.Replace(data, `"cmdfiles": {"wh300": "d.cmd"}`, `"cmdfiles": {"wh300": "d.cmd"}, "min_speed": 3.6`, 1)

	cfg, err := Parse([]byte(data))
	require.NoError(t, err)
	m, err := cfg.Model()
	require.NoError(t, err)
	assert.InDelta(t, 3.6*1852/3600, m.Default().MinSpeed, 1e-9)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "unknown key",
			mutate:  func(s string) string { return strings.Replace(s, `"instruments"`, `"instrumnets": [], "instruments"`, 1) },
			wantErr: "unknown field",
		},
		{
			name:    "bad duration",
			mutate:  func(s string) string { return strings.Replace(s, `"instruments"`, `"restart": "soon", "instruments"`, 1) },
			wantErr: "invalid restart",
		},
		{
			name:    "zero duration",
			mutate:  func(s string) string { return strings.Replace(s, `"instruments"`, `"cmd_timeout": "0s", "instruments"`, 1) },
			wantErr: "cmd_timeout must be positive",
		},
		{
			name:    "zero median window",
			mutate:  func(s string) string { return strings.Replace(s, `"instruments"`, `"median_window": 0, "instruments"`, 1) },
			wantErr: "median_window",
		},
		{
			name:    "no regions",
			mutate:  func(s string) string { return strings.Replace(s, `[{"name": "default", "cmdfiles": {"wh300": "d.cmd"}}]`, `[]`, 1) },
			wantErr: "at least one region",
		},
		{
			name:    "missing profile",
			mutate:  func(s string) string { return strings.Replace(s, `{"wh300": "d.cmd"}`, `{"os75": "d.cmd"}`, 1) },
			wantErr: "missing command profile",
		},
		{
			name:    "unknown feed kind",
			mutate:  func(s string) string { return strings.Replace(s, `"kind": "udp"`, `"kind": "zmq"`, 1) },
			wantErr: "unknown feed kind",
		},
		{
			name:    "bad speed units",
			mutate:  func(s string) string { return strings.Replace(s, `"instruments"`, `"speed_units": "furlongs", "instruments"`, 1) },
			wantErr: "speed_units",
		},
		{
			name:    "mqtt command without topics",
			mutate:  func(s string) string { return strings.Replace(s, `"das"`, `"command": {"transport": "mqtt"}, "das"`, 1) },
			wantErr: "request_topic",
		},
		{
			name:    "missing das path",
			mutate:  func(s string) string { return strings.Replace(s, `"/bin/cat"`, `""`, 1) },
			wantErr: "das.path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(minimalJSON)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAutopilotConfig_FileChecks(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := LoadAutopilotConfig(filepath.Join(tmpDir, "cfg.yaml"))
	assert.ErrorContains(t, err, "extension")

	_, err = LoadAutopilotConfig(filepath.Join(tmpDir, "missing.jsonc"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	big := filepath.Join(tmpDir, "big.json")
	require.NoError(t, os.WriteFile(big, make([]byte, maxFileSize+1), 0o644))
	_, err = LoadAutopilotConfig(big)
	assert.ErrorContains(t, err, "too large")

	ok := filepath.Join(tmpDir, "ok.json")
	require.NoError(t, os.WriteFile(ok, []byte(minimalJSON), 0o644))
	cfg, err := LoadAutopilotConfig(ok)
	require.NoError(t, err)
	assert.Equal(t, "/bin/cat", cfg.DAS.Path)
}
