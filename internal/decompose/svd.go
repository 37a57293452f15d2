// Package decompose factors a normalized observation matrix into principal
// directions with a thin singular value decomposition.
package decompose

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Factors holds the leading k factors of a matrix A ≈ U·diag(S)·Vᵀ.
type Factors struct {
	U        *mat.Dense // rows × k, per-row factor scores
	Singular []float64  // k singular values, descending
	V        *mat.Dense // columns × k, per-column loadings
	Energy   []float64  // share of total squared singular values per factor
	Names    []string   // column names, len == columns
}

// Loading is a column's weight in one factor.
type Loading struct {
	Name   string
	Weight float64
}

// Factorize computes the leading k factors of m. k <= 0 or k larger than
// the matrix rank bound keeps every factor.
func Factorize(m mat.Matrix, k int, names []string) (*Factors, error) {
	if d, ok := m.(*mat.Dense); m == nil || (ok && d == nil) {
		return nil, errors.New("factorize: empty matrix")
	}
	r, c := m.Dims()
	if names != nil && len(names) != c {
		return nil, fmt.Errorf("factorize: %d names for %d columns", len(names), c)
	}
	full := min(r, c)
	if k <= 0 || k > full {
		k = full
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, errors.New("factorize: SVD did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	total := floats.Dot(values, values)
	energy := make([]float64, k)
	if total > 0 {
		for j := 0; j < k; j++ {
			energy[j] = values[j] * values[j] / total
		}
	}

	if names == nil {
		names = make([]string, c)
		for j := range names {
			names[j] = fmt.Sprintf("col%d", j)
		}
	}
	return &Factors{
		U:        mat.DenseCopyOf(u.Slice(0, r, 0, k)),
		Singular: append([]float64(nil), values[:k]...),
		V:        mat.DenseCopyOf(v.Slice(0, c, 0, k)),
		Energy:   energy,
		Names:    append([]string(nil), names...),
	}, nil
}

// K returns the number of retained factors.
func (f *Factors) K() int { return len(f.Singular) }

// Scores returns row i's coordinates in factor space.
func (f *Factors) Scores(i int) []float64 {
	return mat.Row(nil, i, f.U)
}

// Loadings returns factor j's column weights ordered by magnitude.
func (f *Factors) Loadings(j int) []Loading {
	out := make([]Loading, len(f.Names))
	for i, name := range f.Names {
		out[i] = Loading{Name: name, Weight: f.V.At(i, j)}
	}
	sort.SliceStable(out, func(a, b int) bool {
		wa, wb := out[a].Weight, out[b].Weight
		return wa*wa > wb*wb
	})
	return out
}
