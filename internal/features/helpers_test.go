package features

import (
	"math"

	"github.com/banshee-data/tracefeatures/internal/trace"
)

// turnPerFrame is the heading change between consecutive synthetic samples.
const turnPerFrame = 0.05

// syntheticRecord builds n samples turning at a constant rate with every
// other field a simple function of the sample index.
func syntheticRecord(n int) trace.Record {
	rec := make(trace.Record, n)
	for i := range rec {
		h := turnPerFrame * float64(i)
		rec[i] = trace.Sample{
			X:                  float64(i),
			Y:                  2 * float64(i),
			Z:                  0.3,
			VelX:               math.Cos(h),
			VelY:               math.Sin(h),
			VelZ:               0.01 * float64(i),
			VelHoriz:           1 + 0.1*float64(i),
			ClosestDist:        0.5 + 0.01*float64(i),
			AngleOfClosestDist: 0.1 * float64(i),
		}
	}
	return rec
}

// expectedRow computes the observation for window [start, start+k) of a
// syntheticRecord directly from its generating formulas.
func expectedRow(start, k int, fps float64) Observation {
	var o Observation
	o[ColTurnRate] = turnPerFrame * fps
	for i := start; i < start+k; i++ {
		f := float64(i)
		o[ColHorizSpeed] += 1 + 0.1*f
		o[ColVertVel] += 0.01 * f
		o[ColDist] += 0.5 + 0.01*f
		o[ColBearing] += 0.1 * f
		o[ColSinBearing] += math.Sin(0.1 * f)
	}
	for j := ColHorizSpeed; j < NumFeatures; j++ {
		o[j] /= float64(k)
	}
	return o
}

func almostEqual(a, b Observation, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
