package features

import (
	"errors"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tracefeatures/internal/monitoring"
)

// NormParams are the per-column statistics used by Normalize.
type NormParams struct {
	Means []float64
	Stds  []float64 // population standard deviation; 0 for degenerate columns

	// Degenerate lists zero-variance columns. Their normalized values are
	// defined as 0 instead of the NaN a division by zero would give.
	Degenerate []int
}

// Normalize z-scores each column of m by its population mean and standard
// deviation. A constant column is reported in NormParams.Degenerate and
// normalizes to all zeros.
func Normalize(m mat.Matrix) (*mat.Dense, NormParams, error) {
	if d, ok := m.(*mat.Dense); m == nil || (ok && d == nil) {
		return nil, NormParams{}, errors.New("normalize: empty matrix")
	}
	r, c := m.Dims()
	params := NormParams{
		Means: make([]float64, c),
		Stds:  make([]float64, c),
	}
	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		mean, std := stat.PopMeanStdDev(col, nil)
		params.Means[j] = mean
		// Rounding in the mean leaves a tiny spread on constant columns.
		if std == 0 || floats.Max(col) == floats.Min(col) {
			params.Degenerate = append(params.Degenerate, j)
			monitoring.Logf("normalize: column %q has zero variance, emitting zeros", columnName(j, c))
			continue
		}
		params.Stds[j] = std
		for i, v := range col {
			out.Set(i, j, (v-mean)/std)
		}
	}
	return out, params, nil
}

func (p NormParams) degenerate(j int) bool {
	for _, d := range p.Degenerate {
		if d == j {
			return true
		}
	}
	return false
}

// Apply normalizes one row with these parameters.
func (p NormParams) Apply(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if p.degenerate(j) {
			continue
		}
		out[j] = (v - p.Means[j]) / p.Stds[j]
	}
	return out
}

// Invert maps a normalized row back to feature units. Degenerate columns
// map to their mean.
func (p NormParams) Invert(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v*p.Stds[j] + p.Means[j]
	}
	return out
}

func columnName(j, width int) string {
	if width == NumFeatures {
		return ColumnNames[j]
	}
	return strconv.Itoa(j)
}
