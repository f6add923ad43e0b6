package sample

import (
	"math"

	"github.com/gogpu/plotlod/plot"
)

// LTTB downsamples the visible points of s to at most target points
// with Largest-Triangle-Three-Buckets.
//
// When no more than target points are visible they are all returned
// unchanged, which makes LTTB idempotent. The first and last visible
// points are always kept. Equal triangle areas resolve to the lower row.
func LTTB(s plot.Series, vp plot.Viewport, target int) plot.Frame {
	f := emptyFrame(s, vp, plot.Instanced)
	if plot.Available(s) != nil || vp.Validate() != nil || target <= 0 {
		return f
	}
	pts := visible(s, vp)
	f.SourceRows = len(pts)
	f.Points = downsample(pts, target)
	return f
}

func downsample(pts []plot.Point, target int) []plot.Point {
	n := len(pts)
	switch {
	case n <= target:
		return pts
	case target == 1:
		return pts[:1:1]
	case target == 2:
		return []plot.Point{pts[0], pts[n-1]}
	}

	out := make([]plot.Point, 0, target)
	out = append(out, pts[0])

	// Interior buckets split the points between the fixed endpoints.
	every := float64(n-2) / float64(target-2)
	a := 0
	for i := 0; i < target-2; i++ {
		// Average of the next bucket is the third triangle vertex.
		nextStart := int(math.Floor(float64(i+1)*every)) + 1
		nextEnd := min(int(math.Floor(float64(i+2)*every))+1, n)
		if nextStart >= nextEnd {
			nextStart, nextEnd = n-1, n
		}
		var avgX, avgY float64
		for j := nextStart; j < nextEnd; j++ {
			avgX += pts[j].X
			avgY += pts[j].Y
		}
		cnt := float64(nextEnd - nextStart)
		avgX /= cnt
		avgY /= cnt

		lo := int(math.Floor(float64(i)*every)) + 1
		hi := min(int(math.Floor(float64(i+1)*every))+1, n-1)

		ax, ay := pts[a].X, pts[a].Y
		best, bestArea := lo, -1.0
		for j := lo; j < hi; j++ {
			area := math.Abs((ax-avgX)*(pts[j].Y-ay) - (ax-pts[j].X)*(avgY-ay))
			if area > bestArea {
				best, bestArea = j, area
			}
		}
		out = append(out, pts[best])
		a = best
	}
	return append(out, pts[n-1])
}
