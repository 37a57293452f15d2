// Package api serves pick translation over HTTP: a client that selected
// reduced rows (for example points brushed in a factor-space scatter) asks
// which dense samples produced them.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/tracefeatures/internal/assoc"
	"github.com/banshee-data/tracefeatures/internal/decompose"
	"github.com/banshee-data/tracefeatures/internal/features"
	"github.com/banshee-data/tracefeatures/internal/httputil"
	"github.com/banshee-data/tracefeatures/internal/store"
	"github.com/banshee-data/tracefeatures/internal/trace"
	"github.com/banshee-data/tracefeatures/internal/units"
)

// RowSource exposes the observation rows behind an index.
type RowSource interface {
	Rows() int
	Row(i int) features.Observation
	RowTrace(i int) trace.TraceID
}

// Options are the optional parts of a Server.
type Options struct {
	Norm         *features.NormParams
	Factors      *decompose.Factors
	Store        *store.DB // enables /api/runs
	SpeedUnits   string
	AngularUnits string
}

type Server struct {
	index   *assoc.Index
	rows    RowSource
	norm    *features.NormParams
	factors *decompose.Factors
	db      *store.DB
	speed   string
	angular string
}

// NewServer answers queries against index, whose rows must be the rows of
// src in the same order.
func NewServer(index *assoc.Index, src RowSource, opts Options) (*Server, error) {
	if index == nil || src == nil {
		return nil, errors.New("api: index and row source are required")
	}
	if index.Rows() != src.Rows() {
		return nil, fmt.Errorf("api: index covers %d rows, source has %d", index.Rows(), src.Rows())
	}
	if opts.Factors != nil && opts.Factors.U != nil {
		if r, _ := opts.Factors.U.Dims(); r != src.Rows() {
			return nil, fmt.Errorf("api: factor scores cover %d rows, source has %d", r, src.Rows())
		}
	}
	s := &Server{
		index:   index,
		rows:    src,
		norm:    opts.Norm,
		factors: opts.Factors,
		db:      opts.Store,
		speed:   opts.SpeedUnits,
		angular: opts.AngularUnits,
	}
	if s.speed == "" {
		s.speed = units.MPS
	}
	if s.angular == "" {
		s.angular = units.Radians
	}
	return s, nil
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/columns", s.listColumns)
	mux.HandleFunc("GET /api/rows/indices", s.rowIndices)
	mux.HandleFunc("GET /api/rows/elements", s.rowElements)
	mux.HandleFunc("GET /api/rows/{row}/features", s.rowFeatures)
	if s.db != nil {
		mux.HandleFunc("GET /api/runs", s.listRuns)
	}
	return mux
}

// writeQueryError maps index errors to responses. Bad row numbers are the
// caller's fault; an inconsistent index is ours.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assoc.ErrOutOfRange):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"speed_units":   s.speed,
		"angular_units": s.angular,
		"rows":          s.rows.Rows(),
	})
}

type columnJSON struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Unit  string `json:"unit"`
}

func (s *Server) listColumns(w http.ResponseWriter, r *http.Request) {
	cols := make([]columnJSON, features.NumFeatures)
	for j := range cols {
		cols[j] = columnJSON{Index: j, Name: features.ColumnNames[j], Unit: s.unitFor(j)}
	}
	httputil.WriteJSONOK(w, map[string]any{"columns": cols})
}

func (s *Server) rowIndices(w http.ResponseWriter, r *http.Request) {
	rows, err := httputil.QueryInts(r, "rows")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	idx, err := s.index.IndicesForRows(rows)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"rows": rows, "indices": idx})
}

func (s *Server) rowElements(w http.ResponseWriter, r *http.Request) {
	rows, err := httputil.QueryInts(r, "rows")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	els, err := s.index.ElementsForRows(rows)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	out := make(map[trace.TraceID][]sampleJSON, len(els))
	for id, rec := range els {
		out[id] = samplesJSON(rec)
	}
	httputil.WriteJSONOK(w, map[string]any{"rows": rows, "elements": out})
}

type featureJSON struct {
	Name    string   `json:"name"`
	Value   float64  `json:"value"`   // SI units
	Display float64  `json:"display"` // configured display units
	Unit    string   `json:"unit"`
	ZScore  *float64 `json:"z_score,omitempty"`
}

type rowFeaturesJSON struct {
	Row      int           `json:"row"`
	Trace    trace.TraceID `json:"trace"`
	Samples  []int         `json:"samples"`
	Features []featureJSON `json:"features"`
	Scores   []float64     `json:"scores,omitempty"`
}

func (s *Server) rowFeatures(w http.ResponseWriter, r *http.Request) {
	row, err := strconv.Atoi(r.PathValue("row"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid row %q", r.PathValue("row")))
		return
	}
	id, samples, err := s.index.Row(row)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	obs := s.rows.Row(row)
	var z []float64
	if s.norm != nil {
		z = s.norm.Apply(obs[:])
	}
	out := rowFeaturesJSON{Row: row, Trace: id, Samples: samples}
	for j, v := range obs {
		f := featureJSON{
			Name:    features.ColumnNames[j],
			Value:   v,
			Display: s.display(j, v),
			Unit:    s.unitFor(j),
		}
		if z != nil {
			f.ZScore = &z[j]
		}
		out.Features = append(out.Features, f)
	}
	if s.factors != nil {
		out.Scores = s.factors.Scores(row)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	httputil.WriteJSONOK(w, map[string]any{"runs": runs})
}

// display converts column j from SI units to the configured ones. The
// sine column is dimensionless.
func (s *Server) display(j int, v float64) float64 {
	switch j {
	case features.ColTurnRate, features.ColBearing:
		return units.ConvertAngle(v, s.angular)
	case features.ColHorizSpeed, features.ColVertVel:
		return units.ConvertSpeed(v, s.speed)
	default:
		return v
	}
}

func (s *Server) unitFor(j int) string {
	switch j {
	case features.ColTurnRate:
		return s.angular + "/s"
	case features.ColBearing:
		return s.angular
	case features.ColHorizSpeed, features.ColVertVel:
		return units.SpeedLabel(s.speed)
	case features.ColDist:
		return "m"
	default:
		return ""
	}
}
