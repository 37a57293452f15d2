package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracefeatures/internal/assoc"
	"github.com/banshee-data/tracefeatures/internal/decompose"
	"github.com/banshee-data/tracefeatures/internal/features"
	"github.com/banshee-data/tracefeatures/internal/monitoring"
	"github.com/banshee-data/tracefeatures/internal/store"
	"github.com/banshee-data/tracefeatures/internal/testutil"
	"github.com/banshee-data/tracefeatures/internal/trace"
	"github.com/banshee-data/tracefeatures/internal/units"
)

var params = features.Params{SubsampleFactor: 2, SampleRateHz: 100}

func syntheticTrace(id trace.TraceID, n int, phase float64) trace.Trace {
	rec := make(trace.Record, n)
	for i := range rec {
		f := float64(i)
		h := phase + 0.04*f*f
		rec[i] = trace.Sample{
			X: f, Y: -f, Z: 0.5,
			VelX: math.Cos(h), VelY: math.Sin(h), VelZ: 0.02 * f, VelHoriz: 1 + 0.05*f,
			ClosestDist: 0.2 + 0.01*f, AngleOfClosestDist: phase - 0.1*f,
		}
	}
	return trace.Trace{ID: id, Record: rec}
}

type pipeline struct {
	combined *features.Combined
	index    *assoc.Index
	norm     features.NormParams
	factors  *decompose.Factors
}

// newPipeline aggregates trace A (6 samples, rows 0-1) and trace B (8
// samples with sample 5 masked, rows 2-3).
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	a := syntheticTrace("A", 6, 0)
	b := syntheticTrace("B", 8, 3)
	b.Record[5].DistMasked = true
	traces := []trace.Trace{a, b}

	p := &pipeline{}
	var err error
	p.combined, err = features.Run(context.Background(), traces, params, 0)
	require.NoError(t, err)
	require.Equal(t, 4, p.combined.Rows())

	p.index, err = assoc.FromCombined(p.combined, trace.RecordsOf(traces))
	require.NoError(t, err)

	normed, norm, err := features.Normalize(p.combined.Matrix())
	require.NoError(t, err)
	p.norm = norm
	p.factors, err = decompose.Factorize(normed, 2, features.ColumnNames[:])
	require.NoError(t, err)
	return p
}

func newTestServer(t *testing.T, opts Options) (*pipeline, http.Handler) {
	t.Helper()
	p := newPipeline(t)
	opts.Norm = &p.norm
	opts.Factors = p.factors
	s, err := NewServer(p.index, p.combined, opts)
	require.NoError(t, err)
	return p, s.ServeMux()
}

func TestListColumns(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := testutil.Get(t, h, "/api/columns")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[struct {
		Columns []columnJSON `json:"columns"`
	}](t, rec)

	require.Len(t, body.Columns, features.NumFeatures)
	for j, c := range body.Columns {
		assert.Equal(t, j, c.Index)
		assert.Equal(t, features.ColumnNames[j], c.Name)
	}
	assert.Equal(t, "rad/s", body.Columns[features.ColTurnRate].Unit)
	assert.Equal(t, "m/s", body.Columns[features.ColHorizSpeed].Unit)
	assert.Equal(t, "", body.Columns[features.ColSinBearing].Unit)
}

func TestShowConfig(t *testing.T) {
	_, h := newTestServer(t, Options{SpeedUnits: units.MPH, AngularUnits: units.Degrees})

	rec := testutil.Get(t, h, "/api/config")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[map[string]any](t, rec)
	assert.Equal(t, "mph", body["speed_units"])
	assert.Equal(t, "deg", body["angular_units"])
	assert.Equal(t, float64(4), body["rows"])
}

func TestRowIndices(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := testutil.Get(t, h, "/api/rows/indices?rows=3,2,3")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[struct {
		Rows    []int                   `json:"rows"`
		Indices map[trace.TraceID][]int `json:"indices"`
	}](t, rec)

	assert.Equal(t, []int{3, 2, 3}, body.Rows)
	// Caller order is kept; the repeated row adds nothing.
	assert.Equal(t, map[trace.TraceID][]int{"B": {6, 7, 2, 3}}, body.Indices)

	rec = testutil.Get(t, h, "/api/rows/indices?rows=0&rows=2")
	body = testutil.DecodeJSON[struct {
		Rows    []int                   `json:"rows"`
		Indices map[trace.TraceID][]int `json:"indices"`
	}](t, rec)
	assert.Equal(t, map[trace.TraceID][]int{"A": {2, 3}, "B": {2, 3}}, body.Indices)
}

func TestRowQueries_BadRequests(t *testing.T) {
	_, h := newTestServer(t, Options{})

	for _, target := range []string{
		"/api/rows/indices",
		"/api/rows/indices?rows=",
		"/api/rows/indices?rows=one",
		"/api/rows/indices?rows=4",
		"/api/rows/indices?rows=0,-1",
		"/api/rows/elements?rows=1,99",
		"/api/rows/elements",
		"/api/rows/x/features",
		"/api/rows/4/features",
		"/api/rows/-1/features",
	} {
		t.Run(target, func(t *testing.T) {
			rec := testutil.Get(t, h, target)
			testutil.AssertJSONError(t, rec, http.StatusBadRequest)
		})
	}

	// A failed query leaves the server usable.
	rec := testutil.Get(t, h, "/api/rows/indices?rows=1")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}

func TestRowElements(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := testutil.Get(t, h, "/api/rows/elements?rows=1,3")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[struct {
		Elements map[trace.TraceID][]sampleJSON `json:"elements"`
	}](t, rec)

	require.Len(t, body.Elements, 2)
	require.Len(t, body.Elements["A"], 2)
	require.Len(t, body.Elements["B"], 2)
	// Row 1 is A's samples 4 and 5; row 3 is B's samples 6 and 7.
	require.NotNil(t, body.Elements["A"][0].X)
	assert.Equal(t, 4.0, *body.Elements["A"][0].X)
	assert.Equal(t, 5.0, *body.Elements["A"][1].X)
	assert.Equal(t, 6.0, *body.Elements["B"][0].X)
	assert.Equal(t, 7.0, *body.Elements["B"][1].X)
}

func TestSamplesJSON_MaskedAndNonFinite(t *testing.T) {
	rec := trace.Record{
		{X: 1, ClosestDist: 2, AngleOfClosestDist: 0.5},
		{X: 2, ClosestDist: 2, AngleOfClosestDist: 0.5, DistMasked: true},
		{X: math.NaN(), VelX: math.Inf(1)},
	}
	got := samplesJSON(rec)

	require.Len(t, got, 3)
	require.NotNil(t, got[0].ClosestDist)
	assert.Equal(t, 2.0, *got[0].ClosestDist)
	assert.Nil(t, got[1].ClosestDist)
	assert.Nil(t, got[1].AngleOfClosestDist)
	assert.True(t, got[1].Masked)
	assert.Nil(t, got[2].X)
	assert.Nil(t, got[2].VelX)
}

func TestRowFeatures(t *testing.T) {
	p, h := newTestServer(t, Options{AngularUnits: units.Degrees, SpeedUnits: units.KMPH})

	rec := testutil.Get(t, h, "/api/rows/2/features")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[rowFeaturesJSON](t, rec)

	assert.Equal(t, 2, body.Row)
	assert.Equal(t, trace.TraceID("B"), body.Trace)
	assert.Equal(t, []int{2, 3}, body.Samples)
	require.Len(t, body.Features, features.NumFeatures)
	require.Len(t, body.Scores, 2)

	obs := p.combined.Row(2)
	z := p.norm.Apply(obs[:])
	for j, f := range body.Features {
		assert.Equal(t, features.ColumnNames[j], f.Name)
		assert.InDelta(t, obs[j], f.Value, 1e-12, "column %d", j)
		require.NotNil(t, f.ZScore, "column %d", j)
		assert.InDelta(t, z[j], *f.ZScore, 1e-12, "column %d", j)
	}
	turn := body.Features[features.ColTurnRate]
	assert.InDelta(t, obs[features.ColTurnRate]*180/math.Pi, turn.Display, 1e-9)
	assert.Equal(t, "deg/s", turn.Unit)
	speed := body.Features[features.ColHorizSpeed]
	assert.InDelta(t, obs[features.ColHorizSpeed]*3.6, speed.Display, 1e-9)
	assert.Equal(t, "km/h", speed.Unit)
	dist := body.Features[features.ColDist]
	assert.Equal(t, dist.Value, dist.Display)

	for k, v := range p.factors.Scores(2) {
		assert.InDelta(t, v, body.Scores[k], 1e-12)
	}
}

func TestRowFeatures_WithoutNormalization(t *testing.T) {
	p := newPipeline(t)
	s, err := NewServer(p.index, p.combined, Options{})
	require.NoError(t, err)

	rec := testutil.Get(t, s.ServeMux(), "/api/rows/0/features")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[rowFeaturesJSON](t, rec)
	assert.Empty(t, body.Scores)
	for _, f := range body.Features {
		assert.Nil(t, f.ZScore)
	}
}

func TestNewServer_Validation(t *testing.T) {
	p := newPipeline(t)

	_, err := NewServer(nil, p.combined, Options{})
	assert.Error(t, err)
	_, err = NewServer(p.index, nil, Options{})
	assert.Error(t, err)

	short, err := assoc.FromRows(p.index.RowSamples()[:2], nil)
	require.NoError(t, err)
	_, err = NewServer(short, p.combined, Options{})
	assert.Error(t, err)

	other, err := decompose.Factorize(p.combined.Matrix().Slice(0, 3, 0, features.NumFeatures), 2, nil)
	require.NoError(t, err)
	_, err = NewServer(p.index, p.combined, Options{Factors: other})
	assert.Error(t, err)
}

func TestListRuns(t *testing.T) {
	_, h := newTestServer(t, Options{})
	rec := testutil.Get(t, h, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	db, err := store.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	p, h := newTestServer(t, Options{Store: db})
	rec = testutil.Get(t, h, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	saved, err := db.SaveRun(context.Background(), store.RunInput{
		Params: params, Combined: p.combined, Index: p.index, Norm: &p.norm,
	})
	require.NoError(t, err)

	rec = testutil.Get(t, h, "/api/runs")
	body := testutil.DecodeJSON[struct {
		Runs []store.Run `json:"runs"`
	}](t, rec)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, saved.ID, body.Runs[0].ID)
	assert.Equal(t, 4, body.Runs[0].Rows)
}

func TestLoggingMiddleware(t *testing.T) {
	_, h := newTestServer(t, Options{})

	var lines []string
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(orig)

	rec := testutil.Get(t, LoggingMiddleware(h), "/api/rows/indices?rows=9")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "400")
	assert.True(t, strings.Contains(lines[0], "/api/rows/indices?rows=9"), lines[0])
}
