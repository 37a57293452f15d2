package features

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/tracefeatures/internal/monitoring"
	"github.com/banshee-data/tracefeatures/internal/trace"
)

// AggregateAll aggregates traces concurrently with at most workers in
// flight (workers <= 0 means unbounded). Results keep input order so row
// numbering is reproducible. Cancelling ctx stops scheduling further traces.
func AggregateAll(ctx context.Context, traces []trace.Trace, p Params, workers int) ([]TraceResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	results := make([]TraceResult, len(traces))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, t := range traces {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := Aggregate(t.Record, p)
			if err != nil {
				return fmt.Errorf("trace %q: %w", t.ID, err)
			}
			monitoring.Logf("trace %s: %d samples, %d windows, %d retained, %d dropped",
				t.ID, len(t.Record), r.Windows, r.Retained(), r.Dropped)
			results[i] = TraceResult{ID: t.ID, Result: r}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run aggregates and combines traces in input order.
func Run(ctx context.Context, traces []trace.Trace, p Params, workers int) (*Combined, error) {
	results, err := AggregateAll(ctx, traces, p, workers)
	if err != nil {
		return nil, err
	}
	return Combine(results)
}
