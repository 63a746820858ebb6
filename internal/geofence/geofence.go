// Package geofence classifies a position into one of an ordered list of
// named regions, each carrying the acquisition policy for that area.
//
// The first region is the default and matches wherever no other region's
// polygon contains the position. Priority is configuration order: when
// polygons overlap the earliest listed region wins.
//
// Containment is a flat even-odd test on raw longitude and latitude. There
// is no geodesic correction and no handling of polygons that cross the
// antimeridian; a region spanning ±180° must be split by whoever draws it.
package geofence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Point is a polygon vertex in decimal degrees.
type Point struct {
	Lon float64
	Lat float64
}

// Region is one named area and its acquisition policy.
type Region struct {
	Name string
	// Polygon is the closed boundary; nil for the default region.
	Polygon []Point
	// Profile maps instrument name to the command file applied on entry.
	Profile map[string]string
	// InPort suppresses pinging and closes the session.
	InPort bool
	// MinSpeed is the speed gate in m/s below which pinging stops.
	MinSpeed float64
}

// RegionSpec is the unvalidated description of a region, as loaded from
// configuration.
type RegionSpec struct {
	Name     string
	Polygon  [][2]float64
	Profile  map[string]string
	InPort   bool
	MinSpeed float64
}

var (
	ErrNoRegions      = errors.New("at least one region is required")
	ErrInvalidRegion  = errors.New("invalid region")
	ErrMissingProfile = errors.New("missing command profile")
)

// NewRegion validates spec and builds a Region. isDefault relaxes the
// polygon requirement. Every instrument must have a profile unless the
// region is in port, where nothing is ever started.
func NewRegion(spec RegionSpec, instruments []string, isDefault bool) (Region, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Region{}, fmt.Errorf("%w: name is required", ErrInvalidRegion)
	}
	if strings.ContainsAny(name, " \t\n") {
		return Region{}, fmt.Errorf("%w: %q: name must not contain whitespace", ErrInvalidRegion, name)
	}
	if spec.MinSpeed < 0 {
		return Region{}, fmt.Errorf("%w: %s: min_speed must be >= 0, got %g", ErrInvalidRegion, name, spec.MinSpeed)
	}

	r := Region{Name: name, InPort: spec.InPort, MinSpeed: spec.MinSpeed}

	if !isDefault {
		if len(spec.Polygon) < 3 {
			return Region{}, fmt.Errorf("%w: %s: polygon needs at least 3 vertices, got %d", ErrInvalidRegion, name, len(spec.Polygon))
		}
		r.Polygon = make([]Point, len(spec.Polygon))
		for i, v := range spec.Polygon {
			if v[0] < -180 || v[0] > 180 || v[1] < -90 || v[1] > 90 {
				return Region{}, fmt.Errorf("%w: %s: vertex %d (%g, %g) out of range", ErrInvalidRegion, name, i, v[0], v[1])
			}
			r.Polygon[i] = Point{Lon: v[0], Lat: v[1]}
		}
	}

	r.Profile = make(map[string]string, len(spec.Profile))
	for inst, file := range spec.Profile {
		r.Profile[inst] = file
	}
	if !r.InPort {
		for _, inst := range instruments {
			if strings.TrimSpace(r.Profile[inst]) == "" {
				return Region{}, fmt.Errorf("%w: region %s has none for instrument %s", ErrMissingProfile, name, inst)
			}
		}
	}
	return r, nil
}

// Contains reports whether the point lies inside the region's polygon
// under the even-odd rule. A region without a polygon contains nothing.
func (r Region) Contains(lon, lat float64) bool {
	n := len(r.Polygon)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := r.Polygon[i], r.Polygon[j]
		if (pi.Lat > lat) != (pj.Lat > lat) {
			x := (pj.Lon-pi.Lon)*(lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lon
			if lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// CommandArgs renders the profile as "inst:file,inst:file" in instrument
// order, the argument of the cmdfile command.
func (r Region) CommandArgs(instruments []string) string {
	insts := append([]string(nil), instruments...)
	sort.Strings(insts)
	parts := make([]string, 0, len(insts))
	for _, inst := range insts {
		parts = append(parts, inst+":"+r.Profile[inst])
	}
	return strings.Join(parts, ",")
}

// Model is the ordered, read-only region list.
type Model struct {
	regions []Region
}

// NewModel builds a Model. The first region is the default.
func NewModel(regions []Region) (*Model, error) {
	if len(regions) == 0 {
		return nil, ErrNoRegions
	}
	seen := make(map[string]bool, len(regions))
	for i, r := range regions {
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: duplicate region name %q", ErrInvalidRegion, r.Name)
		}
		seen[r.Name] = true
		if i > 0 && len(r.Polygon) < 3 {
			return nil, fmt.Errorf("%w: %s: only the first region may omit its polygon", ErrInvalidRegion, r.Name)
		}
	}
	return &Model{regions: append([]Region(nil), regions...)}, nil
}

// Default returns the fallback region.
func (m *Model) Default() Region { return m.regions[0] }

// Regions returns a copy of the ordered region list.
func (m *Model) Regions() []Region { return append([]Region(nil), m.regions...) }

// Classify returns the first non-default region containing the point, or
// the default region. The default region's polygon is never consulted.
func (m *Model) Classify(lon, lat float64) Region {
	for _, r := range m.regions[1:] {
		if r.Contains(lon, lat) {
			return r
		}
	}
	return m.regions[0]
}
