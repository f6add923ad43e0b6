// Package sample reduces a series to a renderable frame for one viewport.
//
// Three reducers are provided:
//
//   - [Direct] culls to the viewport and keeps every remaining point.
//   - [LTTB] keeps the points that best preserve the visual shape using
//     Largest-Triangle-Three-Buckets.
//   - [AggregateBins] builds a dense 2D histogram over the viewport.
//
// All reducers are pure, run in a single O(n) pass over the series,
// drop NaN and infinite coordinates, and return an empty frame (never an
// error) for empty series or viewports that contain no data.
package sample
