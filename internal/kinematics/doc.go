// Package kinematics holds the circular-statistics helpers used to turn
// per-frame velocity components into turning rates.
//
// Every angular subtraction in the feature pipeline goes through AngleDiff.
// Headings are never averaged before differencing: averaging angles that
// straddle the ±π seam produces a meaningless mean, so turning rates are
// built from summed per-frame circular differences instead.
package kinematics
