package sample

import "github.com/gogpu/plotlod/plot"

// EdgeMarginPx is the margin, in pixels, kept around the viewport so a
// point whose center is just outside still contributes its splat.
const EdgeMarginPx = 1.0

// Direct returns every finite point of s inside vp (widened by
// EdgeMarginPx), in source row order.
func Direct(s plot.Series, vp plot.Viewport) plot.Frame {
	f := emptyFrame(s, vp, plot.Direct)
	if plot.Available(s) != nil || vp.Validate() != nil {
		return f
	}
	f.Points = visible(s, vp)
	f.SourceRows = len(f.Points)
	return f
}

// visible collects the finite points of s inside vp plus the edge margin.
func visible(s plot.Series, vp plot.Viewport) []plot.Point {
	xs, ys, vs := s.X(), s.Y(), s.Values()
	n := min(len(xs), len(ys))
	out := make([]plot.Point, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		x, y := xs[i], ys[i]
		if !plot.Finite(x, y) || !vp.ContainsMargin(x, y, EdgeMarginPx) {
			continue
		}
		out = append(out, plot.Point{X: x, Y: y, Value: valueAt(vs, i, y), Index: i})
	}
	return out
}

// valueAt returns the value column entry for row i, falling back to y
// when the series has no value column or the value is not finite.
func valueAt(vs []float64, i int, y float64) float64 {
	if i < len(vs) {
		if v := vs[i]; plot.Finite(v, 0) {
			return v
		}
	}
	return y
}

func emptyFrame(s plot.Series, vp plot.Viewport, mode plot.RenderMode) plot.Frame {
	f := plot.Frame{Mode: mode, Viewport: vp}
	if s != nil {
		f.SeriesID = s.ID()
		f.Version = s.Version()
	}
	return f
}
