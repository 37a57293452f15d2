// Package features reduces dense per-frame trace records to a matrix of
// fixed-width observations, one per non-overlapping window.
//
// Responsibilities: per-trace window aggregation with the finite-value
// retention policy, deterministic concatenation of per-trace results into
// one globally numbered matrix, and column standardization of that matrix.
// Key types: WindowResult, Combined, NormParams.
//
// Row labels map every dense sample either to the observation row built
// from its window or to Unassigned. Labels never reference a dropped or
// renumbered row.
package features
