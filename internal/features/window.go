package features

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/tracefeatures/internal/kinematics"
	"github.com/banshee-data/tracefeatures/internal/trace"
)

// Unassigned labels a dense sample that belongs to no observation row:
// boundary slack or a dropped window.
const Unassigned = -1

// NumFeatures is the width of an observation row.
const NumFeatures = 6

// Feature column positions.
const (
	ColTurnRate = iota
	ColHorizSpeed
	ColVertVel
	ColDist
	ColBearing
	ColSinBearing
)

// ColumnNames labels the observation columns in order.
var ColumnNames = [NumFeatures]string{
	"angular velocity about Z axis (rad/sec)",
	"horizontal velocity (m/sec)",
	"vertical velocity (m/sec)",
	"distance to closest post (m)",
	"angle to post (rad)",
	"sin(angle to post)",
}

// Observation is one reduced row.
type Observation [NumFeatures]float64

// Finite reports whether every component is neither NaN nor infinite.
func (o Observation) Finite() bool {
	for _, v := range o {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Params configures window aggregation.
type Params struct {
	SubsampleFactor int     // samples per window
	SampleRateHz    float64 // dense frame rate
}

// Validate rejects parameters that cannot produce a window.
func (p Params) Validate() error {
	if p.SubsampleFactor < 1 {
		return &ConfigError{Field: "subsample factor", Value: p.SubsampleFactor}
	}
	if !(p.SampleRateHz > 0) || math.IsInf(p.SampleRateHz, 0) {
		return &ConfigError{Field: "sample rate", Value: p.SampleRateHz}
	}
	return nil
}

// Span is the half-open dense index range [Start, Stop) of one window.
type Span struct {
	Start, Stop int
}

// WindowResult is the reduction of one trace.
type WindowResult struct {
	Rows   []Observation // retained windows, chronological
	Spans  []Span        // dense range of each retained row
	Labels []int         // one per dense sample: local row or Unassigned

	Windows int // candidate windows after boundary slack
	Dropped int // candidates rejected by the retention policy
}

// Retained returns the number of observation rows.
func (r *WindowResult) Retained() int { return len(r.Rows) }

// Aggregate slides a non-overlapping window of p.SubsampleFactor samples
// over rec and reduces each window to an Observation.
//
// The first window's worth of samples is slack: it supplies the heading
// predecessor for the first window's turning rate. A trailing remainder
// shorter than one window is also slack. A window is kept only when all
// features are finite; a masked distance or bearing anywhere in the window
// makes those means NaN and drops the window. Retained rows are numbered
// contiguously in chronological order.
func Aggregate(rec trace.Record, p Params) (*WindowResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	k := p.SubsampleFactor
	n := len(rec)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = Unassigned
	}
	res := &WindowResult{Labels: labels}
	if n/k < 2 {
		return res, nil
	}
	res.Windows = n/k - 1

	start := k
	stop := start + res.Windows*k
	lead := rec[start-1 : stop]
	turns, err := kinematics.TurningRate(
		lead.Column(func(s trace.Sample) float64 { return s.VelX }),
		lead.Column(func(s trace.Sample) float64 { return s.VelY }),
		k, p.SampleRateHz,
	)
	if err != nil {
		return nil, err
	}

	res.Rows = make([]Observation, 0, res.Windows)
	res.Spans = make([]Span, 0, res.Windows)
	for i := 0; i < res.Windows; i++ {
		s := start + i*k
		obs := windowMeans(rec[s : s+k])
		obs[ColTurnRate] = turns[i]
		if !obs.Finite() {
			res.Dropped++
			continue
		}
		row := len(res.Rows)
		res.Rows = append(res.Rows, obs)
		res.Spans = append(res.Spans, Span{Start: s, Stop: s + k})
		for j := s; j < s+k; j++ {
			labels[j] = row
		}
	}
	return res, nil
}

// ObserveWindow recomputes the observation for one window given the sample
// that precedes it. It matches the rows Aggregate produces.
func ObserveWindow(prev trace.Sample, window trace.Record, sampleRateHz float64) (Observation, error) {
	lead := append(trace.Record{prev}, window...)
	turns, err := kinematics.TurningRate(
		lead.Column(func(s trace.Sample) float64 { return s.VelX }),
		lead.Column(func(s trace.Sample) float64 { return s.VelY }),
		len(window), sampleRateHz,
	)
	if err != nil {
		return Observation{}, err
	}
	obs := windowMeans(window)
	if len(turns) == 1 {
		obs[ColTurnRate] = turns[0]
	} else {
		obs[ColTurnRate] = math.NaN()
	}
	return obs, nil
}

// windowMeans fills every column except the turning rate. NaNs propagate.
func windowMeans(w trace.Record) Observation {
	var obs Observation
	n := float64(len(w))
	mean := func(f func(trace.Sample) float64) float64 {
		return floats.Sum(w.Column(f)) / n
	}
	obs[ColHorizSpeed] = mean(func(s trace.Sample) float64 { return s.VelHoriz })
	obs[ColVertVel] = mean(func(s trace.Sample) float64 { return s.VelZ })
	obs[ColDist] = mean(trace.Sample.Dist)
	obs[ColBearing] = mean(trace.Sample.Bearing)
	obs[ColSinBearing] = mean(func(s trace.Sample) float64 { return math.Sin(s.Bearing()) })
	return obs
}
