// Package units converts feature values into reporting units. Features are
// computed in SI: speeds in m/s, angles in radians.
package units

import "math"

// Speed units
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Angular units
const (
	Radians = "rad"
	Degrees = "deg"
)

// ValidUnits contains all valid speed units
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid reports whether unit is a known speed unit
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns the speed units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from m/s to targetUnits; unknown units
// leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// IsValidAngular reports whether unit is rad or deg.
func IsValidAngular(unit string) bool {
	return unit == Radians || unit == Degrees
}

// ConvertAngle converts an angle or angular rate from radians to
// targetUnits; unknown units leave the value in radians.
func ConvertAngle(rad float64, targetUnits string) float64 {
	if targetUnits == Degrees {
		return rad * 180 / math.Pi
	}
	return rad
}

// SpeedLabel is the short suffix used in reports.
func SpeedLabel(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}
