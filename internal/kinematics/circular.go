package kinematics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// AngleDiff returns a-b folded into the half-open interval (-π, π].
func AngleDiff(a, b float64) float64 {
	d := a - b + math.Pi
	// Floored modulo; math.Mod keeps the sign of the dividend.
	d -= 2 * math.Pi * math.Floor(d/(2*math.Pi))
	d -= math.Pi
	// Floored modulo lands in [-π, π); the seam belongs to +π.
	if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}

// Headings returns the horizontal velocity heading atan2(vy, vx) per frame.
func Headings(vx, vy []float64) ([]float64, error) {
	if len(vx) != len(vy) {
		return nil, fmt.Errorf("velocity components differ in length: vx=%d vy=%d", len(vx), len(vy))
	}
	out := make([]float64, len(vx))
	for i := range vx {
		out[i] = math.Atan2(vy[i], vx[i])
	}
	return out, nil
}

// HeadingChanges returns the circular difference between consecutive
// headings; element i is AngleDiff(h[i+1], h[i]).
func HeadingChanges(headings []float64) []float64 {
	if len(headings) < 2 {
		return nil
	}
	out := make([]float64, len(headings)-1)
	for i := 1; i < len(headings); i++ {
		out[i-1] = AngleDiff(headings[i], headings[i-1])
	}
	return out
}

// TurningRate estimates the mean angular velocity (rad/s) of the horizontal
// velocity heading over consecutive windows.
//
// The n samples in vx/vy yield n-1 per-frame heading changes; window i sums
// changes [i*windowSize, (i+1)*windowSize) and divides by the window
// duration windowSize/sampleRateHz. Trailing changes that do not fill a
// window are ignored. A NaN velocity component propagates into its window.
func TurningRate(vx, vy []float64, windowSize int, sampleRateHz float64) ([]float64, error) {
	if windowSize < 1 {
		return nil, fmt.Errorf("window size must be at least 1, got %d", windowSize)
	}
	if !(sampleRateHz > 0) || math.IsInf(sampleRateHz, 0) {
		return nil, fmt.Errorf("sample rate must be positive and finite, got %v", sampleRateHz)
	}
	headings, err := Headings(vx, vy)
	if err != nil {
		return nil, err
	}
	changes := HeadingChanges(headings)

	n := len(changes) / windowSize
	dt := float64(windowSize) / sampleRateHz
	rates := make([]float64, n)
	for i := 0; i < n; i++ {
		rates[i] = floats.Sum(changes[i*windowSize:(i+1)*windowSize]) / dt
	}
	return rates, nil
}
