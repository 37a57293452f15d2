package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tracefeatures/internal/assoc"
	"github.com/banshee-data/tracefeatures/internal/features"
	"github.com/banshee-data/tracefeatures/internal/trace"
)

// ErrRunNotFound is returned when a run id has no stored run.
var ErrRunNotFound = errors.New("run not found")

// TraceSummary is one trace's share of a run.
type TraceSummary struct {
	ID        trace.TraceID `json:"id"`
	RowOffset int           `json:"row_offset"`
	Retained  int           `json:"retained"`
}

// Run is the metadata of a stored aggregation run.
type Run struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	SubsampleFactor int            `json:"subsample_factor"`
	SampleRateHz    float64        `json:"sample_rate_hz"`
	Rows            int            `json:"rows"`
	Columns         []string       `json:"columns"`
	Traces          []TraceSummary `json:"traces"`
}

// RunInput is everything SaveRun persists.
type RunInput struct {
	Params   features.Params
	Combined *features.Combined
	Index    *assoc.Index
	Norm     *features.NormParams // nil when the run retained no rows
}

// StoredRun is a run restored by LoadRun.
type StoredRun struct {
	Run
	Matrix     *mat.Dense // nil when Rows == 0
	RowSamples []assoc.RowSamples
	Norm       *features.NormParams
}

// SaveRun writes a run in a single transaction and returns its metadata.
func (db *DB) SaveRun(ctx context.Context, in RunInput) (*Run, error) {
	if in.Combined == nil || in.Index == nil {
		return nil, fmt.Errorf("save run: combined result and index are required")
	}
	if in.Combined.Rows() != in.Index.Rows() {
		return nil, fmt.Errorf("save run: %d observation rows but index covers %d",
			in.Combined.Rows(), in.Index.Rows())
	}
	if in.Norm != nil && (len(in.Norm.Means) != features.NumFeatures || len(in.Norm.Stds) != features.NumFeatures) {
		return nil, fmt.Errorf("save run: normalization params cover %d columns, want %d",
			len(in.Norm.Means), features.NumFeatures)
	}

	run := &Run{
		ID:              uuid.NewString(),
		CreatedAt:       db.clock.Now().UTC(),
		SubsampleFactor: in.Params.SubsampleFactor,
		SampleRateHz:    in.Params.SampleRateHz,
		Rows:            in.Combined.Rows(),
		Columns:         features.ColumnNames[:],
	}
	for _, id := range in.Combined.Traces() {
		off, _ := in.Combined.RowOffset(id)
		run.Traces = append(run.Traces, TraceSummary{ID: id, RowOffset: off, Retained: in.Combined.Retained(id)})
	}
	columns, err := json.Marshal(run.Columns)
	if err != nil {
		return nil, fmt.Errorf("encode column names: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_unix_ns, subsample_factor, sample_rate_hz, row_count, column_names)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), run.SubsampleFactor, run.SampleRateHz, run.Rows, string(columns),
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	for i, ts := range run.Traces {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_traces (run_id, ordinal, trace_id, row_offset, retained)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, i, string(ts.ID), ts.RowOffset, ts.Retained,
		); err != nil {
			return nil, fmt.Errorf("insert trace %q: %w", ts.ID, err)
		}
	}

	obsStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (run_id, row_index, trace_id, turn_rate, horiz_speed, vert_vel, dist, bearing, sin_bearing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare observations: %w", err)
	}
	defer obsStmt.Close()

	sampleStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO row_samples (run_id, row_index, trace_id, sample_indices)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare row samples: %w", err)
	}
	defer sampleStmt.Close()

	refs := in.Index.RowSamples()
	for i := 0; i < run.Rows; i++ {
		o := in.Combined.Row(i)
		if _, err := obsStmt.ExecContext(ctx, run.ID, i, string(in.Combined.RowTrace(i)),
			o[features.ColTurnRate], o[features.ColHorizSpeed], o[features.ColVertVel],
			o[features.ColDist], o[features.ColBearing], o[features.ColSinBearing],
		); err != nil {
			return nil, fmt.Errorf("insert observation %d: %w", i, err)
		}

		idx, err := json.Marshal(refs[i].Indices)
		if err != nil {
			return nil, fmt.Errorf("encode row %d samples: %w", i, err)
		}
		if _, err := sampleStmt.ExecContext(ctx, run.ID, i, string(refs[i].Trace), string(idx)); err != nil {
			return nil, fmt.Errorf("insert row %d samples: %w", i, err)
		}
	}

	if in.Norm != nil {
		degenerate := make(map[int]bool, len(in.Norm.Degenerate))
		for _, j := range in.Norm.Degenerate {
			degenerate[j] = true
		}
		for j := 0; j < features.NumFeatures; j++ {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO norm_params (run_id, column_index, column_name, mean, std, degenerate)
				VALUES (?, ?, ?, ?, ?, ?)`,
				run.ID, j, features.ColumnNames[j], in.Norm.Means[j], in.Norm.Stds[j], degenerate[j],
			); err != nil {
				return nil, fmt.Errorf("insert norm params for column %d: %w", j, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}
	return run, nil
}

// ListRuns returns stored runs, newest first.
func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, created_unix_ns, subsample_factor, sample_rate_hz, row_count, column_names
		FROM runs
		ORDER BY created_unix_ns DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Traces, err = db.loadTraces(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// GetRun returns the metadata of one run.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT run_id, created_unix_ns, subsample_factor, sample_rate_hz, row_count, column_names
		FROM runs
		WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if r.Traces, err = db.loadTraces(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRun restores a run's reduced matrix, reverse ranges and
// normalization parameters.
func (db *DB) LoadRun(ctx context.Context, id string) (*StoredRun, error) {
	run, err := db.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &StoredRun{Run: *run}

	if run.Rows > 0 {
		data := make([]float64, 0, run.Rows*features.NumFeatures)
		rows, err := db.QueryContext(ctx, `
			SELECT row_index, turn_rate, horiz_speed, vert_vel, dist, bearing, sin_bearing
			FROM observations
			WHERE run_id = ?
			ORDER BY row_index`, id)
		if err != nil {
			return nil, fmt.Errorf("query observations: %w", err)
		}
		defer rows.Close()
		for want := 0; rows.Next(); want++ {
			var i int
			var o features.Observation
			if err := rows.Scan(&i, &o[features.ColTurnRate], &o[features.ColHorizSpeed], &o[features.ColVertVel],
				&o[features.ColDist], &o[features.ColBearing], &o[features.ColSinBearing]); err != nil {
				return nil, fmt.Errorf("scan observation: %w", err)
			}
			if i != want {
				return nil, fmt.Errorf("run %s: observation row %d missing", id, want)
			}
			data = append(data, o[:]...)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(data) != run.Rows*features.NumFeatures {
			return nil, fmt.Errorf("run %s: %d observations stored, want %d",
				id, len(data)/features.NumFeatures, run.Rows)
		}
		out.Matrix = mat.NewDense(run.Rows, features.NumFeatures, data)
	}

	if out.RowSamples, err = db.loadRowSamples(ctx, id, run.Rows); err != nil {
		return nil, err
	}
	if out.Norm, err = db.loadNorm(ctx, id); err != nil {
		return nil, err
	}
	return out, nil
}

// RunIndex rebuilds the reverse index of a stored run, resolving elements
// against records.
func (db *DB) RunIndex(ctx context.Context, id string, records assoc.RecordSource) (*assoc.Index, error) {
	run, err := db.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	refs, err := db.loadRowSamples(ctx, id, run.Rows)
	if err != nil {
		return nil, err
	}
	return assoc.FromRows(refs, records)
}

// DeleteRun removes a run and everything stored with it.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r       Run
		created int64
		columns string
	)
	if err := s.Scan(&r.ID, &created, &r.SubsampleFactor, &r.SampleRateHz, &r.Rows, &columns); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(columns), &r.Columns); err != nil {
		return nil, fmt.Errorf("run %s: decode column names: %w", r.ID, err)
	}
	return &r, nil
}

func (db *DB) loadTraces(ctx context.Context, id string) ([]TraceSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT trace_id, row_offset, retained
		FROM run_traces
		WHERE run_id = ?
		ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("query run traces: %w", err)
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var ts TraceSummary
		var tid string
		if err := rows.Scan(&tid, &ts.RowOffset, &ts.Retained); err != nil {
			return nil, fmt.Errorf("scan run trace: %w", err)
		}
		ts.ID = trace.TraceID(tid)
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (db *DB) loadRowSamples(ctx context.Context, id string, n int) ([]assoc.RowSamples, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT row_index, trace_id, sample_indices
		FROM row_samples
		WHERE run_id = ?
		ORDER BY row_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query row samples: %w", err)
	}
	defer rows.Close()

	out := make([]assoc.RowSamples, 0, n)
	for rows.Next() {
		var (
			i   int
			tid string
			raw string
		)
		if err := rows.Scan(&i, &tid, &raw); err != nil {
			return nil, fmt.Errorf("scan row samples: %w", err)
		}
		if i != len(out) {
			return nil, fmt.Errorf("run %s: reverse range for row %d missing", id, len(out))
		}
		ref := assoc.RowSamples{Trace: trace.TraceID(tid)}
		if err := json.Unmarshal([]byte(raw), &ref.Indices); err != nil {
			return nil, fmt.Errorf("run %s row %d: decode sample indices: %w", id, i, err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, fmt.Errorf("run %s: %d reverse ranges stored, want %d", id, len(out), n)
	}
	return out, nil
}

func (db *DB) loadNorm(ctx context.Context, id string) (*features.NormParams, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_index, mean, std, degenerate
		FROM norm_params
		WHERE run_id = ?
		ORDER BY column_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query norm params: %w", err)
	}
	defer rows.Close()

	p := &features.NormParams{}
	for rows.Next() {
		var (
			j          int
			mean, std  float64
			degenerate bool
		)
		if err := rows.Scan(&j, &mean, &std, &degenerate); err != nil {
			return nil, fmt.Errorf("scan norm params: %w", err)
		}
		p.Means = append(p.Means, mean)
		p.Stds = append(p.Stds, std)
		if degenerate {
			p.Degenerate = append(p.Degenerate, j)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(p.Means) == 0 {
		return nil, nil
	}
	return p, nil
}
