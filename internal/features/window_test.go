package features

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracefeatures/internal/trace"
)

func TestAggregate_Values(t *testing.T) {
	const fps = 100.0
	rec := syntheticRecord(11)

	res, err := Aggregate(rec, Params{SubsampleFactor: 3, SampleRateHz: fps})
	require.NoError(t, err)

	// 11 samples: 3 leading slack, 2 trailing, windows at 3, 6.
	require.Equal(t, 2, res.Windows)
	require.Equal(t, 2, res.Retained())
	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, []Span{{3, 6}, {6, 9}}, res.Spans)
	assert.Equal(t, []int{-1, -1, -1, 0, 0, 0, 1, 1, 1, -1, -1}, res.Labels)

	for i, span := range res.Spans {
		want := expectedRow(span.Start, 3, fps)
		assert.True(t, almostEqual(res.Rows[i], want, 1e-9), "row %d = %v, want %v", i, res.Rows[i], want)
	}
}

func TestAggregate_SlackAccounting(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for k := 1; k <= 5; k++ {
			res, err := Aggregate(syntheticRecord(n), Params{SubsampleFactor: k, SampleRateHz: 60})
			if err != nil {
				t.Fatalf("n=%d k=%d: %v", n, k, err)
			}
			if len(res.Labels) != n {
				t.Fatalf("n=%d k=%d: %d labels", n, k, len(res.Labels))
			}

			unassigned := 0
			counts := map[int]int{}
			for _, l := range res.Labels {
				if l == Unassigned {
					unassigned++
					continue
				}
				counts[l]++
			}

			wantSlack := n
			if n >= k {
				wantSlack = k + n%k
			}
			if unassigned != wantSlack {
				t.Errorf("n=%d k=%d: %d unassigned, want %d", n, k, unassigned, wantSlack)
			}
			if len(counts) != res.Retained() {
				t.Errorf("n=%d k=%d: %d distinct labels, want %d", n, k, len(counts), res.Retained())
			}
			for row, c := range counts {
				if c != k {
					t.Errorf("n=%d k=%d: row %d has %d samples", n, k, row, c)
				}
			}
		}
	}
}

func TestAggregate_DropsNonFiniteWindow(t *testing.T) {
	const k = 4
	rec := syntheticRecord(40)
	base, err := Aggregate(rec, Params{SubsampleFactor: k, SampleRateHz: 100})
	require.NoError(t, err)
	require.Equal(t, 9, base.Retained())

	// Window 3 spans [16, 20).
	masked := append(trace.Record(nil), rec...)
	masked[17].DistMasked = true

	res, err := Aggregate(masked, Params{SubsampleFactor: k, SampleRateHz: 100})
	require.NoError(t, err)

	assert.Equal(t, base.Retained()-1, res.Retained())
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, base.Windows, res.Windows)

	for i := 16; i < 20; i++ {
		assert.Equal(t, Unassigned, res.Labels[i], "sample %d", i)
	}
	// Earlier rows are untouched; later rows shift down by one.
	for i := 0; i < 3; i++ {
		assert.Equal(t, base.Rows[i], res.Rows[i])
		assert.Equal(t, base.Spans[i], res.Spans[i])
	}
	for i := 4; i < base.Retained(); i++ {
		assert.Equal(t, base.Rows[i], res.Rows[i-1])
		assert.Equal(t, base.Spans[i], res.Spans[i-1])
		for j := base.Spans[i].Start; j < base.Spans[i].Stop; j++ {
			assert.Equal(t, i-1, res.Labels[j])
		}
	}
}

func TestAggregate_EachFeatureDrops(t *testing.T) {
	mutate := map[string]func(*trace.Sample){
		"vel_x":     func(s *trace.Sample) { s.VelX = math.NaN() },
		"vel_horiz": func(s *trace.Sample) { s.VelHoriz = math.Inf(1) },
		"vel_z":     func(s *trace.Sample) { s.VelZ = math.NaN() },
		"dist":      func(s *trace.Sample) { s.ClosestDist = math.NaN() },
		"bearing":   func(s *trace.Sample) { s.AngleOfClosestDist = math.Inf(-1) },
		"mask":      func(s *trace.Sample) { s.DistMasked = true },
	}
	for name, m := range mutate {
		t.Run(name, func(t *testing.T) {
			rec := syntheticRecord(8)
			m(&rec[4])
			res, err := Aggregate(rec, Params{SubsampleFactor: 2, SampleRateHz: 50})
			require.NoError(t, err)
			assert.Equal(t, 2, res.Retained())
			assert.Equal(t, 1, res.Dropped)
			assert.Equal(t, []int{-1, -1, 0, 0, -1, -1, 1, 1}, res.Labels)
		})
	}
}

func TestAggregate_ConfigErrors(t *testing.T) {
	rec := syntheticRecord(10)
	for _, p := range []Params{
		{SubsampleFactor: 0, SampleRateHz: 100},
		{SubsampleFactor: -3, SampleRateHz: 100},
		{SubsampleFactor: 2, SampleRateHz: 0},
		{SubsampleFactor: 2, SampleRateHz: math.Inf(1)},
	} {
		_, err := Aggregate(rec, p)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("Aggregate(%+v) error = %v, want ErrConfiguration", p, err)
		}
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("Aggregate(%+v) error is not a *ConfigError", p)
		}
	}
}

func TestAggregate_ShortTrace(t *testing.T) {
	for _, n := range []int{0, 1, 4, 9} {
		res, err := Aggregate(syntheticRecord(n), Params{SubsampleFactor: 5, SampleRateHz: 100})
		require.NoError(t, err)
		assert.Zero(t, res.Retained(), "n=%d", n)
		assert.Zero(t, res.Windows, "n=%d", n)
		assert.Len(t, res.Labels, n)
	}
}

func TestAggregate_FactorOne(t *testing.T) {
	res, err := Aggregate(syntheticRecord(4), Params{SubsampleFactor: 1, SampleRateHz: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 0, 1, 2}, res.Labels)
	for _, r := range res.Rows {
		assert.InDelta(t, turnPerFrame*10, r[ColTurnRate], 1e-9)
	}
}

func TestObserveWindow_MatchesAggregate(t *testing.T) {
	rec := syntheticRecord(30)
	p := Params{SubsampleFactor: 5, SampleRateHz: 120}
	res, err := Aggregate(rec, p)
	require.NoError(t, err)

	for i, span := range res.Spans {
		got, err := ObserveWindow(rec[span.Start-1], rec[span.Start:span.Stop], p.SampleRateHz)
		require.NoError(t, err)
		assert.True(t, almostEqual(got, res.Rows[i], 1e-12), "row %d", i)
	}

	_, err = ObserveWindow(rec[0], nil, 100)
	assert.Error(t, err)
}

func TestObservationFinite(t *testing.T) {
	assert.True(t, Observation{1, 2, 3, 4, 5, 6}.Finite())
	assert.False(t, Observation{1, math.NaN()}.Finite())
	assert.False(t, Observation{math.Inf(-1)}.Finite())
}
