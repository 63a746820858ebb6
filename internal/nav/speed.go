package nav

import "math"

// metersPerDegree is one degree of arc on a sphere of radius 6371 km.
const metersPerDegree = 2 * math.Pi * 6371000 / 360

// Speed returns the speed over ground in m/s between two fixes, using a
// flat-earth displacement with longitude scaled by cos(latitude). The
// elapsed time is taken modulo one day. ok is false when either fix is
// undefined or the elapsed time is not positive.
func Speed(prev, cur Fix) (mps float64, ok bool) {
	if !prev.Defined() || !cur.Defined() {
		return math.NaN(), false
	}

	dt := math.Mod(cur.Time-prev.Time, 1)
	if dt < 0 {
		dt++
	}
	secs := dt * 86400
	if secs <= 0 {
		return math.NaN(), false
	}

	dlon := math.Remainder(cur.Lon-prev.Lon, 360)
	dlat := cur.Lat - prev.Lat
	dx := dlon * math.Cos(cur.Lat*math.Pi/180) * metersPerDegree
	dy := dlat * metersPerDegree
	return math.Hypot(dx, dy) / secs, true
}
