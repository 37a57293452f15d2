package assoc

import (
	"fmt"

	"github.com/banshee-data/tracefeatures/internal/features"
	"github.com/banshee-data/tracefeatures/internal/trace"
)

// RecordSource resolves a trace to its dense record.
type RecordSource interface {
	Record(id trace.TraceID) (trace.Record, bool)
}

// RowSamples is the reverse range of one observation row.
type RowSamples struct {
	Trace   trace.TraceID
	Indices []int // trace-local sample indices, ascending
}

// Index answers which dense samples produced a set of observation rows.
type Index struct {
	rows    []RowSamples
	records RecordSource
}

// New builds an index over rows observation rows.
//
// labels holds the global row (or features.Unassigned) of every dense
// sample across all traces concatenated; sampleTraces names the trace of
// each of those samples. offsets gives the position of each trace's first
// sample in that concatenation, so position p of trace t is sample
// p-offsets[t] of t's record. Construction is a single pass over labels
// and fails if a row has no samples or its samples span several traces.
func New(rows int, labels []int, sampleTraces []trace.TraceID, offsets map[trace.TraceID]int, records RecordSource) (*Index, error) {
	if rows < 0 {
		return nil, &ConsistencyError{Row: -1, Reason: fmt.Sprintf("negative row count %d", rows)}
	}
	if len(labels) != len(sampleTraces) {
		return nil, &ConsistencyError{Row: -1, Reason: fmt.Sprintf(
			"%d labels but %d sample trace ids", len(labels), len(sampleTraces))}
	}

	refs := make([]RowSamples, rows)
	for pos, row := range labels {
		if row == features.Unassigned {
			continue
		}
		if row < 0 || row >= rows {
			return nil, &ConsistencyError{Row: row, Reason: fmt.Sprintf(
				"label at position %d outside %d rows", pos, rows)}
		}
		id := sampleTraces[pos]
		off, ok := offsets[id]
		if !ok {
			return nil, &ConsistencyError{Row: row, Reason: fmt.Sprintf("no offset for trace %q", id)}
		}
		local := pos - off
		if local < 0 {
			return nil, &ConsistencyError{Row: row, Reason: fmt.Sprintf(
				"position %d precedes trace %q offset %d", pos, id, off)}
		}
		ref := &refs[row]
		if len(ref.Indices) == 0 {
			ref.Trace = id
		} else if ref.Trace != id {
			return nil, &ConsistencyError{Row: row, Reason: fmt.Sprintf(
				"samples from both %q and %q", ref.Trace, id)}
		}
		ref.Indices = append(ref.Indices, local)
	}
	return FromRows(refs, records)
}

// FromRows builds an index from previously resolved reverse ranges, e.g.
// ones restored from storage. Every row needs at least one sample.
func FromRows(rows []RowSamples, records RecordSource) (*Index, error) {
	refs := make([]RowSamples, len(rows))
	for i, r := range rows {
		if len(r.Indices) == 0 {
			return nil, &ConsistencyError{Row: i, Reason: "no backing samples in row labels"}
		}
		for _, idx := range r.Indices {
			if idx < 0 {
				return nil, &ConsistencyError{Row: i, Reason: fmt.Sprintf("negative sample index %d", idx)}
			}
		}
		refs[i] = RowSamples{Trace: r.Trace, Indices: append([]int(nil), r.Indices...)}
	}
	return &Index{rows: refs, records: records}, nil
}

// FromCombined builds an index over a combined aggregation.
func FromCombined(c *features.Combined, records RecordSource) (*Index, error) {
	return New(c.Rows(), c.Labels(), c.SampleTraces(), c.SampleOffsets(), records)
}

// Rows returns the number of indexed observation rows.
func (x *Index) Rows() int { return len(x.rows) }

// Row returns the trace and trace-local sample indices behind row i.
func (x *Index) Row(i int) (trace.TraceID, []int, error) {
	if i < 0 || i >= len(x.rows) {
		return "", nil, &RangeError{Index: i, Len: len(x.rows)}
	}
	ref := x.rows[i]
	return ref.Trace, append([]int(nil), ref.Indices...), nil
}

// RowSamples returns a copy of every row's reverse range.
func (x *Index) RowSamples() []RowSamples {
	out := make([]RowSamples, len(x.rows))
	for i, r := range x.rows {
		out[i] = RowSamples{Trace: r.Trace, Indices: append([]int(nil), r.Indices...)}
	}
	return out
}

// IndicesForRows groups the samples behind rows by trace. Within a trace,
// indices are concatenated in the order rows are given; repeated rows are
// ignored. Traces not touched by rows are absent from the result.
func (x *Index) IndicesForRows(rows []int) (map[trace.TraceID][]int, error) {
	out := make(map[trace.TraceID][]int)
	seen := make(map[int]struct{}, len(rows))
	for _, r := range rows {
		if r < 0 || r >= len(x.rows) {
			return nil, &RangeError{Index: r, Len: len(x.rows)}
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		ref := x.rows[r]
		out[ref.Trace] = append(out[ref.Trace], ref.Indices...)
	}
	return out, nil
}

// ElementsForRows is IndicesForRows resolved against the dense records.
// It fails if a trace has no record or an index falls outside it, which
// happens when the index is queried with records other than the ones it
// was built from.
func (x *Index) ElementsForRows(rows []int) (map[trace.TraceID]trace.Record, error) {
	idxs, err := x.IndicesForRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[trace.TraceID]trace.Record, len(idxs))
	for id, ii := range idxs {
		var rec trace.Record
		ok := false
		if x.records != nil {
			rec, ok = x.records.Record(id)
		}
		if !ok {
			return nil, &ConsistencyError{Row: -1, Reason: fmt.Sprintf("no records for trace %q", id)}
		}
		sel := make(trace.Record, len(ii))
		for k, i := range ii {
			if i >= len(rec) {
				return nil, &RangeError{Trace: id, Index: i, Len: len(rec)}
			}
			sel[k] = rec[i]
		}
		out[id] = sel
	}
	return out, nil
}
