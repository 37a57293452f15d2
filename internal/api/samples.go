package api

import (
	"math"

	"github.com/banshee-data/tracefeatures/internal/trace"
)

// sampleJSON is a dense sample on the wire. Non-finite values, including
// masked distance and bearing, encode as null.
type sampleJSON struct {
	X                  *float64 `json:"x"`
	Y                  *float64 `json:"y"`
	Z                  *float64 `json:"z"`
	VelX               *float64 `json:"vel_x"`
	VelY               *float64 `json:"vel_y"`
	VelZ               *float64 `json:"vel_z"`
	VelHoriz           *float64 `json:"vel_horiz"`
	ClosestDist        *float64 `json:"closest_dist"`
	AngleOfClosestDist *float64 `json:"angle_of_closest_dist"`
	Masked             bool     `json:"closest_dist_mask"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func samplesJSON(rec trace.Record) []sampleJSON {
	out := make([]sampleJSON, len(rec))
	for i, s := range rec {
		out[i] = sampleJSON{
			X:                  finite(s.X),
			Y:                  finite(s.Y),
			Z:                  finite(s.Z),
			VelX:               finite(s.VelX),
			VelY:               finite(s.VelY),
			VelZ:               finite(s.VelZ),
			VelHoriz:           finite(s.VelHoriz),
			ClosestDist:        finite(s.Dist()),
			AngleOfClosestDist: finite(s.Bearing()),
			Masked:             s.DistMasked,
		}
	}
	return out
}
