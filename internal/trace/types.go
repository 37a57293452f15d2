// Package trace defines the dense per-frame records consumed by the feature
// pipeline and loaders that materialize them from tabular files.
package trace

import "math"

// TraceID identifies one independently recorded dense time series.
type TraceID string

// Sample is one per-frame kinematic record. ClosestDist and
// AngleOfClosestDist are meaningless when DistMasked is set.
type Sample struct {
	X, Y, Z float64

	VelX     float64
	VelY     float64
	VelZ     float64
	VelHoriz float64

	ClosestDist        float64
	AngleOfClosestDist float64
	DistMasked         bool
}

// Dist returns the distance to the reference point, or NaN when masked.
func (s Sample) Dist() float64 {
	if s.DistMasked {
		return math.NaN()
	}
	return s.ClosestDist
}

// Bearing returns the bearing to the reference point, or NaN when masked.
func (s Sample) Bearing() float64 {
	if s.DistMasked {
		return math.NaN()
	}
	return s.AngleOfClosestDist
}

// Record is the ordered dense series for one trace. It is owned upstream
// and treated as read-only by this module.
type Record []Sample

// Column extracts one float field across the record.
func (r Record) Column(f func(Sample) float64) []float64 {
	out := make([]float64, len(r))
	for i, s := range r {
		out[i] = f(s)
	}
	return out
}

// Trace pairs a record with its identifier.
type Trace struct {
	ID     TraceID
	Record Record
}

// Records is a lookup of dense records by trace.
type Records map[TraceID]Record

// Record implements the lookup used by reverse-association queries.
func (r Records) Record(id TraceID) (Record, bool) {
	rec, ok := r[id]
	return rec, ok
}

// RecordsOf indexes a trace list by id. Later duplicates win.
func RecordsOf(traces []Trace) Records {
	out := make(Records, len(traces))
	for _, t := range traces {
		out[t.ID] = t.Record
	}
	return out
}
