// Package pilot decides, from the smoothed ship position and speed, whether
// the acquisition process should be pinging, which command profile it
// should run, and whether a cruise session is open.
//
// A Pilot is owned by a single goroutine. Every state change is applied
// only after the acquisition process acknowledges the command that makes
// it; a failed command leaves the state as it was so the same decision is
// taken again on the next cycle.
package pilot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/autopilot/internal/command"
	"github.com/banshee-data/autopilot/internal/geofence"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/nav"
	"github.com/banshee-data/autopilot/internal/status"
	"github.com/banshee-data/autopilot/internal/timeutil"
)

// Event kinds passed to the Recorder. They match the journal's kinds.
const (
	EventRegion  = "region"
	EventPinging = "pinging"
	EventSession = "session"
)

// sessionTimeFormat is appended to the prefix to name a session.
const sessionTimeFormat = "2006-01-02_150405"

// Commander sends one command and waits for its acknowledgement.
type Commander interface {
	Send(ctx context.Context, cmd command.Command) (string, error)
}

// Recorder receives state changes worth keeping.
type Recorder interface {
	RecordEvent(kind, detail string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string) {}

// Config holds what a Pilot needs from the controller configuration.
type Config struct {
	Model         *geofence.Model
	Instruments   []string
	SessionPrefix string
	MedianWindow  int

	// Optional.
	Clock    timeutil.Clock
	Recorder Recorder
}

// Pilot is the cruise and logging state machine.
type Pilot struct {
	cmd         Commander
	rec         Recorder
	clock       timeutil.Clock
	model       *geofence.Model
	instruments []string
	prefix      string
	buf         *nav.Buffer

	current       *geofence.Region
	last          *geofence.Region
	lastSpeed     float64
	lastFix       nav.Fix
	lastHeartbeat time.Time

	sessionOpen bool
	pinging     bool
	sessionName string
}

// New returns a Pilot with no session open and nothing pinging, which is
// the state the acquisition process starts in.
func New(cfg Config, cmd Commander) *Pilot {
	p := &Pilot{
		cmd:         cmd,
		rec:         cfg.Recorder,
		clock:       cfg.Clock,
		model:       cfg.Model,
		instruments: append([]string(nil), cfg.Instruments...),
		prefix:      cfg.SessionPrefix,
		buf:         nav.NewBuffer(cfg.MedianWindow),
		lastSpeed:   math.NaN(),
		lastFix:     nav.Undefined(),
	}
	if p.rec == nil {
		p.rec = nopRecorder{}
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	p.newSessionName()
	return p
}

// HandleFix parses one nav feed message into the smoothing buffer.
// Messages that do not parse are logged and dropped.
func (p *Pilot) HandleFix(msg string) {
	fix, err := nav.ParseSentence(msg)
	if err != nil {
		monitoring.Warnf("dropping nav message %q: %v", msg, err)
		return
	}
	p.buf.Append(fix)
}

// HandleHeartbeat records that the instrument produced a ping.
func (p *Pilot) HandleHeartbeat() {
	p.lastHeartbeat = p.clock.Now()
}

// Update takes the median of the buffered fixes, derives speed from the
// previous median and classifies the position. It reports true only when
// a speed could be computed; otherwise Steer must not be called.
func (p *Pilot) Update() bool {
	fix, ok := p.buf.Median()
	if !ok {
		monitoring.Warnf("no position yet: %s", fix)
		return false
	}

	speed, ok := nav.Speed(p.lastFix, fix)
	if ok {
		p.lastSpeed = speed
	} else {
		monitoring.Warnf("cannot update speed from %s to %s", p.lastFix, fix)
	}
	p.lastFix = fix

	region := p.model.Classify(fix.Lon, fix.Lat)
	p.current = &region
	monitoring.Debugf("fix %s speed %.2f m/s region %s", fix, p.lastSpeed, region.Name)
	return ok
}

// Steer issues the commands the current region and speed call for. It
// returns the first command error; the decision is retried on the next
// call because the region transition is only committed on success.
func (p *Pilot) Steer(ctx context.Context) error {
	if p.current == nil {
		return fmt.Errorf("steer before first update")
	}
	reg := *p.current
	changed := p.last == nil || p.last.Name != reg.Name
	if changed {
		// Leaving port names the next session. A retry after a partial
		// start keeps the name the open session already has.
		if p.last != nil && p.last.InPort && !p.sessionOpen {
			p.newSessionName()
		}
		monitoring.Infof("region changed to: %s", reg.Name)
	}

	if err := p.steer(ctx, reg, changed); err != nil {
		return err
	}
	if changed {
		from := "(none)"
		if p.last != nil {
			from = p.last.Name
		}
		p.rec.RecordEvent(EventRegion, from+" -> "+reg.Name)
	}
	p.last = &reg
	return nil
}

func (p *Pilot) steer(ctx context.Context, reg geofence.Region, changed bool) error {
	if reg.InPort {
		if err := p.StopPinging(ctx); err != nil {
			return err
		}
		return p.EndSession(ctx)
	}

	if p.lastSpeed < reg.MinSpeed {
		return p.StopPinging(ctx)
	}

	if changed {
		// A new region always reloads the command profile.
		if err := p.StopPinging(ctx); err != nil {
			return err
		}
		return p.StartPinging(ctx)
	}

	if !p.pinging {
		return p.StartPinging(ctx)
	}
	return nil
}

// StopPinging sends stop_logging if pinging. The session stays open.
func (p *Pilot) StopPinging(ctx context.Context) error {
	if !p.pinging {
		return nil
	}
	monitoring.Infof("stop pinging")
	if err := p.send(ctx, command.StopLogging()); err != nil {
		return err
	}
	p.pinging = false
	p.rec.RecordEvent(EventPinging, "off")
	return nil
}

// StartPinging opens a session if none is open, loads the current region's
// command files and starts logging.
func (p *Pilot) StartPinging(ctx context.Context) error {
	if p.pinging {
		monitoring.Warnf("already pinging")
		return nil
	}
	if p.current == nil {
		return fmt.Errorf("start pinging before first update")
	}
	monitoring.Infof("start pinging")
	if err := p.StartSession(ctx); err != nil {
		return err
	}
	if err := p.send(ctx, command.CmdFile(p.current.CommandArgs(p.instruments))); err != nil {
		return err
	}
	if err := p.send(ctx, command.StartLogging()); err != nil {
		return err
	}
	p.lastHeartbeat = p.clock.Now()
	p.pinging = true
	p.rec.RecordEvent(EventPinging, "on "+p.current.Name)
	return nil
}

// StartSession sends start_cruise with the current session name unless a
// session is already open.
func (p *Pilot) StartSession(ctx context.Context) error {
	if p.sessionOpen {
		return nil
	}
	monitoring.Infof("start cruise %s", p.sessionName)
	if err := p.send(ctx, command.StartCruise(p.sessionName)); err != nil {
		return err
	}
	p.sessionOpen = true
	p.rec.RecordEvent(EventSession, "start "+p.sessionName)
	return nil
}

// EndSession sends end_cruise if a session is open.
func (p *Pilot) EndSession(ctx context.Context) error {
	if !p.sessionOpen {
		return nil
	}
	if p.pinging {
		return fmt.Errorf("end session %s while pinging", p.sessionName)
	}
	monitoring.Infof("end cruise %s", p.sessionName)
	if err := p.send(ctx, command.EndCruise()); err != nil {
		return err
	}
	p.sessionOpen = false
	p.rec.RecordEvent(EventSession, "end "+p.sessionName)
	return nil
}

func (p *Pilot) send(ctx context.Context, cmd command.Command) error {
	monitoring.Infof("sending: %s", cmd)
	reply, err := p.cmd.Send(ctx, cmd)
	if err != nil {
		monitoring.Errorf("send %s: %v", cmd.Verb, err)
		return err
	}
	monitoring.Infof("reply: %s", reply)
	return nil
}

func (p *Pilot) newSessionName() {
	p.sessionName = p.prefix + p.clock.Now().UTC().Format(sessionTimeFormat)
	monitoring.Infof("new cruise name: %s", p.sessionName)
}

// Pinging reports whether the acquisition process is logging.
func (p *Pilot) Pinging() bool { return p.pinging }

// SessionOpen reports whether a cruise is open.
func (p *Pilot) SessionOpen() bool { return p.sessionOpen }

// SessionName is the name the next (or current) cruise uses.
func (p *Pilot) SessionName() string { return p.sessionName }

// LastSpeed is the most recent speed in m/s, NaN before the second update.
func (p *Pilot) LastSpeed() float64 { return p.lastSpeed }

// LastFix is the most recent median fix.
func (p *Pilot) LastFix() nav.Fix { return p.lastFix }

// Region returns the region from the latest Update.
func (p *Pilot) Region() (geofence.Region, bool) {
	if p.current == nil {
		return geofence.Region{}, false
	}
	return *p.current, true
}

// HeartbeatAge is the time since the last heartbeat or the last
// StartPinging, whichever is later.
func (p *Pilot) HeartbeatAge() time.Duration {
	return p.clock.Since(p.lastHeartbeat)
}

// Snapshot reports the pilot state for publishing.
func (p *Pilot) Snapshot() status.Snapshot {
	s := status.Snapshot{
		At:          p.clock.Now().UTC(),
		Pinging:     p.pinging,
		SessionOpen: p.sessionOpen,
		SessionName: p.sessionName,
	}
	if p.lastFix.Defined() {
		s.HasFix = true
		s.FixTime, s.Lon, s.Lat = p.lastFix.Time, p.lastFix.Lon, p.lastFix.Lat
	}
	s.SetSpeed(p.lastSpeed)
	if p.current != nil {
		s.Region = p.current.Name
		s.InPort = p.current.InPort
	}
	if !p.lastHeartbeat.IsZero() {
		hb := p.lastHeartbeat.UTC()
		s.LastHeartbeat = &hb
	}
	return s
}
