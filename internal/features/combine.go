package features

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tracefeatures/internal/trace"
)

// TraceResult pairs a trace with its aggregation.
type TraceResult struct {
	ID     trace.TraceID
	Result *WindowResult
}

// Combined is the globally numbered reduction of several traces. It is
// read-only once Combine returns; accessors hand out copies.
type Combined struct {
	rows      []Observation
	rowTraces []trace.TraceID

	labels       []int
	sampleTraces []trace.TraceID

	order         []trace.TraceID
	rowOffsets    map[trace.TraceID]int
	sampleOffsets map[trace.TraceID]int
	retained      map[trace.TraceID]int
}

// Combine stacks per-trace results in input order. Each trace's labels are
// shifted by the rows retained before it, so labels are unique across
// traces and increase with trace order. Sample offsets record where each
// trace starts in the concatenated dense timeline.
func Combine(results []TraceResult) (*Combined, error) {
	c := &Combined{
		order:         make([]trace.TraceID, 0, len(results)),
		rowOffsets:    make(map[trace.TraceID]int, len(results)),
		sampleOffsets: make(map[trace.TraceID]int, len(results)),
		retained:      make(map[trace.TraceID]int, len(results)),
	}

	var rowBase, sampleBase int
	for _, tr := range results {
		if tr.Result == nil {
			return nil, fmt.Errorf("trace %q has no aggregation result", tr.ID)
		}
		if _, dup := c.rowOffsets[tr.ID]; dup {
			return nil, fmt.Errorf("duplicate trace id %q", tr.ID)
		}
		r := tr.Result
		c.order = append(c.order, tr.ID)
		c.rowOffsets[tr.ID] = rowBase
		c.sampleOffsets[tr.ID] = sampleBase
		c.retained[tr.ID] = r.Retained()

		c.rows = append(c.rows, r.Rows...)
		for range r.Rows {
			c.rowTraces = append(c.rowTraces, tr.ID)
		}
		for _, l := range r.Labels {
			if l != Unassigned {
				if l < 0 || l >= r.Retained() {
					return nil, fmt.Errorf("trace %q: label %d outside %d retained rows", tr.ID, l, r.Retained())
				}
				l += rowBase
			}
			c.labels = append(c.labels, l)
			c.sampleTraces = append(c.sampleTraces, tr.ID)
		}

		rowBase += r.Retained()
		sampleBase += len(r.Labels)
	}
	return c, nil
}

// Rows returns the number of observation rows.
func (c *Combined) Rows() int { return len(c.rows) }

// Row returns observation i.
func (c *Combined) Row(i int) Observation { return c.rows[i] }

// RowTrace returns the trace that produced row i.
func (c *Combined) RowTrace(i int) trace.TraceID { return c.rowTraces[i] }

// Matrix returns a fresh rows×NumFeatures matrix, or nil when no window
// was retained.
func (c *Combined) Matrix() *mat.Dense {
	if len(c.rows) == 0 {
		return nil
	}
	m := mat.NewDense(len(c.rows), NumFeatures, nil)
	for i, r := range c.rows {
		m.SetRow(i, r[:])
	}
	return m
}

// Labels returns the global row label of every dense sample, traces
// concatenated in combine order.
func (c *Combined) Labels() []int { return append([]int(nil), c.labels...) }

// SampleTraces returns the trace of every dense sample, parallel to Labels.
func (c *Combined) SampleTraces() []trace.TraceID {
	return append([]trace.TraceID(nil), c.sampleTraces...)
}

// Traces returns trace ids in combine order.
func (c *Combined) Traces() []trace.TraceID { return append([]trace.TraceID(nil), c.order...) }

// RowOffset returns the global index of the trace's first row.
func (c *Combined) RowOffset(id trace.TraceID) (int, bool) {
	off, ok := c.rowOffsets[id]
	return off, ok
}

// SampleOffsets returns where each trace starts in the concatenated dense
// timeline.
func (c *Combined) SampleOffsets() map[trace.TraceID]int {
	out := make(map[trace.TraceID]int, len(c.sampleOffsets))
	for k, v := range c.sampleOffsets {
		out[k] = v
	}
	return out
}

// Retained returns the number of rows contributed by a trace.
func (c *Combined) Retained(id trace.TraceID) int { return c.retained[id] }
