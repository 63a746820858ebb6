// Package nav turns NMEA position sentences into fixes and smooths them.
//
// A Fix carries time as a fraction of the UTC day because GGA, the
// sentence the ship's navigation feed publishes, carries no date. Speed
// differences take the time delta modulo one day so a pair of fixes that
// straddles midnight still yields a positive interval.
package nav

import (
	"errors"
	"fmt"
	"math"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

var (
	// ErrChecksum marks a sentence whose checksum does not match its body.
	ErrChecksum = errors.New("nmea checksum mismatch")
	// ErrNoFix marks a well-formed sentence that reports no valid position.
	ErrNoFix = errors.New("no position fix")
	// ErrUnsupported marks a sentence type the controller does not use.
	ErrUnsupported = errors.New("unsupported sentence type")
)

// Fix is one timestamped position. Missing values are NaN.
type Fix struct {
	Time float64 `json:"time"` // UTC time of day, fraction of a day
	Lon  float64 `json:"lon"`  // decimal degrees east
	Lat  float64 `json:"lat"`  // decimal degrees north
}

// Undefined is the all-NaN fix used for empty slots and "no position yet".
func Undefined() Fix {
	nan := math.NaN()
	return Fix{Time: nan, Lon: nan, Lat: nan}
}

// Defined reports whether all three values are present.
func (f Fix) Defined() bool {
	return !math.IsNaN(f.Time) && !math.IsNaN(f.Lon) && !math.IsNaN(f.Lat)
}

func (f Fix) String() string {
	return fmt.Sprintf("%12.5f %12.5f %12.5f", f.Time, f.Lon, f.Lat)
}

// ParseSentence parses one feed message into a Fix. Only the first line is
// considered; the feed appends a second timestamp line that is ignored.
func ParseSentence(msg string) (Fix, error) {
	line, _, _ := strings.Cut(msg, "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return Undefined(), fmt.Errorf("empty message: %w", ErrUnsupported)
	}

	if err := verifyChecksum(line); err != nil {
		return Undefined(), err
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Undefined(), fmt.Errorf("failed to parse %q: %w", line, err)
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality == nmea.Invalid || !m.Time.Valid {
			return Undefined(), ErrNoFix
		}
		return Fix{Time: dayFraction(m.Time), Lon: m.Longitude, Lat: m.Latitude}, nil

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC || !m.Time.Valid {
			return Undefined(), ErrNoFix
		}
		return Fix{Time: dayFraction(m.Time), Lon: m.Longitude, Lat: m.Latitude}, nil

	default:
		return Undefined(), fmt.Errorf("%s: %w", sentence.DataType(), ErrUnsupported)
	}
}

// verifyChecksum checks the "*hh" suffix before handing the sentence to the
// parser, so a corrupt sentence is reported as ErrChecksum rather than as a
// generic parse failure.
func verifyChecksum(line string) error {
	body, sum, ok := strings.Cut(strings.TrimPrefix(strings.TrimPrefix(line, "$"), "!"), "*")
	if !ok {
		return fmt.Errorf("missing checksum in %q: %w", line, ErrChecksum)
	}
	if want := nmea.Checksum(body); !strings.EqualFold(want, strings.TrimSpace(sum)) {
		return fmt.Errorf("%q: got %s want %s: %w", line, sum, want, ErrChecksum)
	}
	return nil
}

func dayFraction(t nmea.Time) float64 {
	secs := float64(t.Hour*3600+t.Minute*60+t.Second) + float64(t.Millisecond)/1000
	return secs / 86400
}
