package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/banshee-data/autopilot/internal/geofence"
	"github.com/banshee-data/autopilot/internal/serialmux"
	"github.com/banshee-data/autopilot/internal/units"
)

// DefaultConfigPath is where the boot script looks for the autopilot
// configuration. A ship without this file is not in autopilot mode.
const DefaultConfigPath = "/home/adcp/config/autopilot_cfg.jsonc"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Feed kinds.
const (
	FeedMQTT   = "mqtt"
	FeedSerial = "serial"
	FeedUDP    = "udp"
)

// Command transports.
const (
	TransportStdio = "stdio"
	TransportTCP   = "tcp"
	TransportMQTT  = "mqtt"
)

// AutopilotConfig is the root of the autopilot configuration file.
// Scalar tuning fields are pointers so an omitted key falls back to the
// default returned by the matching Get* method.
type AutopilotConfig struct {
	MedianWindow  *int    `json:"median_window,omitempty"`
	CheckInterval *string `json:"check_interval,omitempty"` // duration string like "10s"
	Restart       *string `json:"restart,omitempty"`        // heartbeat staleness before restart
	CmdTimeout    *string `json:"cmd_timeout,omitempty"`
	PollTimeout   *string `json:"poll_timeout,omitempty"`
	TermGrace     *string `json:"term_grace,omitempty"`

	CruisePrefix string `json:"cruise_prefix"`
	// SpeedUnits applies to every region's min_speed. Defaults to m/s.
	SpeedUnits  string         `json:"speed_units,omitempty"`
	Instruments []string       `json:"instruments"`
	Regions     []RegionConfig `json:"regions"`

	GPSNav    FeedConfig    `json:"gpsnav"`
	Heartbeat FeedConfig    `json:"heartbeat"`
	Command   CommandConfig `json:"command"`
	DAS       ProcessConfig `json:"das"`
	Status    *StatusConfig `json:"status,omitempty"`

	FlagDir      string `json:"flag_dir,omitempty"`
	LivenessFile string `json:"liveness_file,omitempty"`
	Journal      string `json:"journal,omitempty"`
	LogFile      string `json:"log_file,omitempty"`
}

// RegionConfig is one entry of the ordered region list. The first entry is
// the default region; its poly is ignored.
type RegionConfig struct {
	Name     string            `json:"name"`
	Poly     [][2]float64      `json:"poly,omitempty"`
	CmdFiles map[string]string `json:"cmdfiles,omitempty"`
	InPort   bool              `json:"in_port,omitempty"`
	MinSpeed float64           `json:"min_speed,omitempty"`
}

// FeedConfig describes where a stream of messages comes from.
type FeedConfig struct {
	Kind   string `json:"kind"`
	Broker string `json:"broker,omitempty"` // mqtt
	Topic  string `json:"topic,omitempty"`  // mqtt
	Port   string `json:"port,omitempty"`   // serial device path
	Baud   int    `json:"baud,omitempty"`   // serial
	Addr   string `json:"addr,omitempty"`   // udp listen address
	// Framing is the serial line format, e.g. "8N1".
	Framing string `json:"framing,omitempty"`
	// Init sentences are written to a serial receiver after opening.
	Init []string `json:"init,omitempty"`
	// Prefix keeps only messages starting with it, e.g. "$GPGGA".
	Prefix string `json:"prefix,omitempty"`
}

// CommandConfig selects how commands reach the acquisition process.
type CommandConfig struct {
	Transport    string `json:"transport"`
	Addr         string `json:"addr,omitempty"`   // tcp
	Broker       string `json:"broker,omitempty"` // mqtt
	RequestTopic string `json:"request_topic,omitempty"`
	ReplyTopic   string `json:"reply_topic,omitempty"`
}

// ProcessConfig is the acquisition process command line.
type ProcessConfig struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"`
	Dir  string   `json:"dir,omitempty"`
}

// StatusConfig enables MQTT publication of the pilot snapshot.
type StatusConfig struct {
	Broker string `json:"broker"`
	Topic  string `json:"topic"`
}

// Parse strips JSONC comments and trailing commas from data and decodes
// it strictly: unknown keys are an error.
func Parse(data []byte) (*AutopilotConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()

	cfg := &AutopilotConfig{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadAutopilotConfig reads and validates the configuration at path.
func LoadAutopilotConfig(path string) (*AutopilotConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" && ext != ".jsonc" {
		return nil, fmt.Errorf("config file must have .json or .jsonc extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AutopilotConfig) Validate() error {
	if c.MedianWindow != nil && *c.MedianWindow < 1 {
		return fmt.Errorf("median_window must be positive, got %d", *c.MedianWindow)
	}

	for _, d := range []struct {
		name string
		v    *string
	}{
		{"check_interval", c.CheckInterval},
		{"restart", c.Restart},
		{"cmd_timeout", c.CmdTimeout},
		{"poll_timeout", c.PollTimeout},
		{"term_grace", c.TermGrace},
	} {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.SpeedUnits != "" && !units.IsValid(c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", strings.Join(units.ValidUnits, ", "), c.SpeedUnits)
	}
	if strings.ContainsAny(c.CruisePrefix, " \t\n/") {
		return fmt.Errorf("cruise_prefix %q must not contain whitespace or '/'", c.CruisePrefix)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	for _, inst := range c.Instruments {
		if inst == "" || strings.ContainsAny(inst, " ,:") {
			return fmt.Errorf("invalid instrument name %q", inst)
		}
	}
	if _, err := c.Model(); err != nil {
		return err
	}

	if err := c.GPSNav.validate("gpsnav"); err != nil {
		return err
	}
	if err := c.Heartbeat.validate("heartbeat"); err != nil {
		return err
	}
	if err := c.Command.validate(); err != nil {
		return err
	}
	if c.DAS.Path == "" {
		return fmt.Errorf("das.path is required")
	}
	if c.Status != nil && (c.Status.Broker == "" || c.Status.Topic == "") {
		return fmt.Errorf("status requires broker and topic")
	}
	return nil
}

func (f FeedConfig) validate(name string) error {
	switch f.Kind {
	case FeedMQTT:
		if f.Broker == "" || f.Topic == "" {
			return fmt.Errorf("%s: mqtt feed requires broker and topic", name)
		}
	case FeedSerial:
		if f.Port == "" {
			return fmt.Errorf("%s: serial feed requires port", name)
		}
		if f.Baud < 0 {
			return fmt.Errorf("%s: baud must be non-negative, got %d", name, f.Baud)
		}
		if _, err := (serialmux.PortOptions{BaudRate: f.Baud, Framing: f.Framing}).Mode(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	case FeedUDP:
		if f.Addr == "" {
			return fmt.Errorf("%s: udp feed requires addr", name)
		}
	default:
		return fmt.Errorf("%s: unknown feed kind %q", name, f.Kind)
	}
	return nil
}

func (c CommandConfig) validate() error {
	switch c.Transport {
	case "", TransportStdio:
	case TransportTCP:
		if c.Addr == "" {
			return fmt.Errorf("command: tcp transport requires addr")
		}
	case TransportMQTT:
		if c.Broker == "" || c.RequestTopic == "" || c.ReplyTopic == "" {
			return fmt.Errorf("command: mqtt transport requires broker, request_topic and reply_topic")
		}
	default:
		return fmt.Errorf("command: unknown transport %q", c.Transport)
	}
	return nil
}

// Model converts the region list into a validated geofence model.
// min_speed values are converted to m/s.
func (c *AutopilotConfig) Model() (*geofence.Model, error) {
	if len(c.Regions) == 0 {
		return nil, geofence.ErrNoRegions
	}
	regions := make([]geofence.Region, 0, len(c.Regions))
	for i, rc := range c.Regions {
		r, err := geofence.NewRegion(geofence.RegionSpec{
			Name:     rc.Name,
			Polygon:  rc.Poly,
			Profile:  rc.CmdFiles,
			InPort:   rc.InPort,
			MinSpeed: units.ToMPS(rc.MinSpeed, c.GetSpeedUnits()),
		}, c.Instruments, i == 0)
		if err != nil {
			return nil, fmt.Errorf("regions[%d]: %w", i, err)
		}
		regions = append(regions, r)
	}
	return geofence.NewModel(regions)
}

// GetMedianWindow returns the median window length or the default.
func (c *AutopilotConfig) GetMedianWindow() int {
	if c.MedianWindow == nil {
		return 60 // default
	}
	return *c.MedianWindow
}

// GetCheckInterval returns the decision tick interval.
func (c *AutopilotConfig) GetCheckInterval() time.Duration {
	return parseDurationOr(c.CheckInterval, 10*time.Second)
}

// GetRestart returns how stale the heartbeat may get while pinging before
// the acquisition process is restarted.
func (c *AutopilotConfig) GetRestart() time.Duration {
	return parseDurationOr(c.Restart, 30*time.Second)
}

// GetCmdTimeout returns the command acknowledgement timeout.
func (c *AutopilotConfig) GetCmdTimeout() time.Duration {
	return parseDurationOr(c.CmdTimeout, 30*time.Second)
}

// GetPollTimeout returns the event loop's bounded wait.
func (c *AutopilotConfig) GetPollTimeout() time.Duration {
	return parseDurationOr(c.PollTimeout, 2*time.Second)
}

// GetTermGrace returns how long to wait after SIGTERM before SIGKILL.
func (c *AutopilotConfig) GetTermGrace() time.Duration {
	return parseDurationOr(c.TermGrace, 60*time.Second)
}

// GetSpeedUnits returns the unit of min_speed values.
func (c *AutopilotConfig) GetSpeedUnits() string {
	if c.SpeedUnits == "" {
		return units.MPS
	}
	return c.SpeedUnits
}

// GetFlagDir returns the directory holding the run and stop flags.
func (c *AutopilotConfig) GetFlagDir() string {
	if c.FlagDir == "" {
		return "/home/adcp/flags"
	}
	return c.FlagDir
}

// RunFlagPath is the file whose presence keeps the controller running.
func (c *AutopilotConfig) RunFlagPath() string {
	return filepath.Join(c.GetFlagDir(), "autopilot.running")
}

// StopFlagPath is the file whose presence stops the controller.
func (c *AutopilotConfig) StopFlagPath() string {
	return filepath.Join(c.GetFlagDir(), "autopilot.stop")
}

// GetLivenessFile returns the file touched every loop iteration.
func (c *AutopilotConfig) GetLivenessFile() string {
	if c.LivenessFile == "" {
		return c.RunFlagPath()
	}
	return c.LivenessFile
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}
