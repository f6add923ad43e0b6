package sample

import (
	"github.com/gogpu/plotlod/plot"
)

// AggregateBins builds a bx by by histogram of the points of s inside vp.
//
// Both axes are split linearly. Bins are half-open [lo, hi) except the
// last bin on each axis, which is closed, so every point inside the
// closed viewport lands in exactly one bin. Each bin stores the point
// count and the sum of the point values (y when the series has no value
// column). Empty bins are present as zero entries: the result always has
// exactly bx*by bins. Row 0 holds the lowest y values.
func AggregateBins(s plot.Series, vp plot.Viewport, bx, by uint32) plot.Frame {
	f := emptyFrame(s, vp, plot.Aggregated)
	if bx == 0 || by == 0 {
		return f
	}
	f.BinsX, f.BinsY = bx, by
	f.Bins = make([]plot.Bin, int(bx)*int(by))
	if plot.Available(s) != nil || vp.Validate() != nil {
		return f
	}

	xs, ys, vs := s.X(), s.Y(), s.Values()
	n := min(len(xs), len(ys))
	sx := float64(bx) / vp.SpanX()
	sy := float64(by) / vp.SpanY()
	lastX, lastY := int(bx)-1, int(by)-1
	for i := 0; i < n; i++ {
		x, y := xs[i], ys[i]
		if !plot.Finite(x, y) || !vp.Contains(x, y) {
			continue
		}
		ix := min(int((x-vp.MinX)*sx), lastX)
		iy := min(int((y-vp.MinY)*sy), lastY)
		b := &f.Bins[iy*int(bx)+ix]
		b.Count++
		b.Sum += valueAt(vs, i, y)
		f.SourceRows++
	}
	return f
}

// ColumnStat summarizes the points falling in one pixel column.
type ColumnStat struct {
	Count      int
	MinY, MaxY float64
	Mean       float64
}

// ColumnAggregate reduces s to one min/max/mean summary per pixel column
// of vp. Line series denser than the pixel grid are drawn from these
// summaries as vertical strokes. Points are assigned to columns with the
// same half-open rule as AggregateBins; y is not clipped so strokes can
// leave the viewport.
func ColumnAggregate(s plot.Series, vp plot.Viewport) []ColumnStat {
	if plot.Available(s) != nil || vp.Validate() != nil {
		return nil
	}
	cols := make([]ColumnStat, vp.Width)
	sums := make([]float64, vp.Width)
	xs, ys := s.X(), s.Y()
	n := min(len(xs), len(ys))
	sx := float64(vp.Width) / vp.SpanX()
	for i := 0; i < n; i++ {
		x, y := xs[i], ys[i]
		if !plot.Finite(x, y) || x < vp.MinX || x > vp.MaxX {
			continue
		}
		ix := min(int((x-vp.MinX)*sx), vp.Width-1)
		c := &cols[ix]
		if c.Count == 0 {
			c.MinY, c.MaxY = y, y
		} else {
			c.MinY, c.MaxY = min(c.MinY, y), max(c.MaxY, y)
		}
		c.Count++
		sums[ix] += y
	}
	for i := range cols {
		if cols[i].Count > 0 {
			cols[i].Mean = sums[i] / float64(cols[i].Count)
		}
	}
	return cols
}
