// Package status publishes what the pilot currently believes: the smoothed
// position, speed, active region and acquisition state.
package status

import (
	"math"
	"time"

	"github.com/banshee-data/autopilot/internal/units"
)

// Snapshot is one published view of the pilot.
type Snapshot struct {
	At time.Time `json:"at"`

	HasFix  bool    `json:"has_fix"`
	FixTime float64 `json:"fix_time,omitempty"` // fraction of a UTC day
	Lon     float64 `json:"lon,omitempty"`
	Lat     float64 `json:"lat,omitempty"`

	SpeedMPS   *float64 `json:"speed_mps,omitempty"`
	SpeedKnots *float64 `json:"speed_kn,omitempty"`

	Region      string `json:"region"`
	InPort      bool   `json:"in_port"`
	Pinging     bool   `json:"pinging"`
	SessionOpen bool   `json:"session_open"`
	SessionName string `json:"session_name"`

	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// SetSpeed fills both speed fields from m/s. NaN leaves them unset.
func (s *Snapshot) SetSpeed(mps float64) {
	if math.IsNaN(mps) {
		s.SpeedMPS, s.SpeedKnots = nil, nil
		return
	}
	kn := units.ConvertSpeed(mps, units.Knots)
	s.SpeedMPS, s.SpeedKnots = &mps, &kn
}

// Publisher receives every snapshot.
type Publisher interface {
	Publish(Snapshot) error
}

// Multi fans a snapshot out to several publishers, returning the first
// error after trying all of them.
type Multi []Publisher

func (m Multi) Publish(s Snapshot) error {
	var first error
	for _, p := range m {
		if err := p.Publish(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
