// Package units provides shared constants and conversions for ship speed
package units

// Unit constants
const (
	MPS   = "mps"
	Knots = "kn"
	KPH   = "kph"
)

// MetersPerNauticalMile is the exact definition of the nautical mile.
const MetersPerNauticalMile = 1852.0

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, Knots, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
// The pilot computes and gates on m/s; knots are for logs and status.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case Knots:
		return speedMPS * 3600 / MetersPerNauticalMile
	case KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// ToMPS converts a speed expressed in unit back to meters per second.
func ToMPS(speed float64, unit string) float64 {
	switch unit {
	case Knots:
		return speed * MetersPerNauticalMile / 3600
	case KPH:
		return speed / 3.6
	default:
		return speed
	}
}
