// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the NMEA fixtures used by the nav, pilot and
// autopilot tests so every package builds sentences the same way.
package testutil

import (
	"fmt"
	"math"
	"testing"

	nmea "github.com/adrianmo/go-nmea"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// GGA builds a checksummed $GPGGA sentence with a valid GPS fix at the
// given UTC seconds of day and decimal-degree position.
func GGA(secondsOfDay float64, lon, lat float64) string {
	body := fmt.Sprintf("GPGGA,%s,%s,%s,1,08,0.9,12.0,M,0.0,M,,",
		hhmmss(secondsOfDay), latField(lat), lonField(lon))
	return "$" + body + "*" + nmea.Checksum(body)
}

// GGANoFix builds a checksummed GGA sentence reporting fix quality 0.
func GGANoFix(secondsOfDay float64) string {
	body := fmt.Sprintf("GPGGA,%s,,,,,0,00,,,M,,M,,", hhmmss(secondsOfDay))
	return "$" + body + "*" + nmea.Checksum(body)
}

// Corrupt flips the checksum of a sentence so it fails validation.
func Corrupt(sentence string) string {
	if len(sentence) < 2 {
		return sentence
	}
	last := sentence[len(sentence)-1]
	repl := byte('0')
	if last == '0' {
		repl = '1'
	}
	return sentence[:len(sentence)-1] + string(repl)
}

func hhmmss(secs float64) string {
	h := int(secs) / 3600
	m := int(secs) % 3600 / 60
	s := secs - float64(h*3600+m*60)
	return fmt.Sprintf("%02d%02d%06.3f", h, m, s)
}

func latField(lat float64) string {
	hemi := "N"
	if lat < 0 {
		hemi = "S"
	}
	a := math.Abs(lat)
	deg := math.Floor(a)
	return fmt.Sprintf("%02d%09.6f,%s", int(deg), (a-deg)*60, hemi)
}

func lonField(lon float64) string {
	hemi := "E"
	if lon < 0 {
		hemi = "W"
	}
	a := math.Abs(lon)
	deg := math.Floor(a)
	return fmt.Sprintf("%03d%09.6f,%s", int(deg), (a-deg)*60, hemi)
}
