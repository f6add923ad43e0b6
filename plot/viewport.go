package plot

import (
	"fmt"
	"math"
)

// Viewport is a data-space rectangle mapped onto a pixel raster.
// The pipeline never mutates a viewport it receives.
type Viewport struct {
	MinX, MaxX float64
	MinY, MaxY float64
	Width      int
	Height     int
}

// Validate checks that bounds are finite and ordered and the resolution
// is positive.
func (v Viewport) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("viewport resolution %dx%d: %w", v.Width, v.Height, ErrConfiguration)
	}
	for _, f := range [...]float64{v.MinX, v.MaxX, v.MinY, v.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("viewport bounds %v: %w", v, ErrConfiguration)
		}
	}
	if !(v.MinX < v.MaxX) || !(v.MinY < v.MaxY) {
		return fmt.Errorf("viewport bounds [%g,%g]x[%g,%g] are degenerate: %w",
			v.MinX, v.MaxX, v.MinY, v.MaxY, ErrConfiguration)
	}
	return nil
}

// Pixels returns Width*Height.
func (v Viewport) Pixels() int {
	return v.Width * v.Height
}

// SpanX returns MaxX-MinX.
func (v Viewport) SpanX() float64 { return v.MaxX - v.MinX }

// SpanY returns MaxY-MinY.
func (v Viewport) SpanY() float64 { return v.MaxY - v.MinY }

// ToPixel maps a data-space coordinate to continuous pixel space.
// Pixel (0,0) is the top-left corner, so MaxY maps to py=0.
func (v Viewport) ToPixel(x, y float64) (px, py float64) {
	px = (x - v.MinX) / v.SpanX() * float64(v.Width)
	py = (v.MaxY - y) / v.SpanY() * float64(v.Height)
	return px, py
}

// Contains reports whether (x, y) lies inside the closed viewport rectangle.
func (v Viewport) Contains(x, y float64) bool {
	return x >= v.MinX && x <= v.MaxX && y >= v.MinY && y <= v.MaxY
}

// ContainsMargin is like Contains but widens the rectangle by marginPx
// pixels on every side, so partially visible points at the edges survive
// culling.
func (v Viewport) ContainsMargin(x, y, marginPx float64) bool {
	mx := marginPx * v.SpanX() / float64(v.Width)
	my := marginPx * v.SpanY() / float64(v.Height)
	return x >= v.MinX-mx && x <= v.MaxX+mx && y >= v.MinY-my && y <= v.MaxY+my
}

// Intersects reports whether two viewports overlap in data space.
func (v Viewport) Intersects(o Viewport) bool {
	return v.MinX <= o.MaxX && o.MinX <= v.MaxX && v.MinY <= o.MaxY && o.MinY <= v.MaxY
}

// BucketKey is a quantized viewport, comparable and usable as a map key.
// SpanX and SpanY quantize the zoom level, X0..Y1 the position.
type BucketKey struct {
	X0, X1, Y0, Y1 float64
	SpanX, SpanY   float64
	Width, Height  int
}

// Bucket quantizes the bounds to steps of span/steps on each axis, so
// viewports that differ by less than one step share a key. The spans are
// quantized on a log scale with the same relative resolution, so zooming
// by more than one step changes the key even when the bounds scale about
// the origin. steps <= 0 quantizes to one pixel.
func (v Viewport) Bucket(steps int) BucketKey {
	sx, sy := steps, steps
	if steps <= 0 {
		sx, sy = v.Width, v.Height
	}
	qx := v.SpanX() / float64(sx)
	qy := v.SpanY() / float64(sy)
	return BucketKey{
		X0:     math.Round(v.MinX / qx),
		X1:     math.Round(v.MaxX / qx),
		Y0:     math.Round(v.MinY / qy),
		Y1:     math.Round(v.MaxY / qy),
		SpanX:  math.Round(math.Log(v.SpanX()) * float64(sx)),
		SpanY:  math.Round(math.Log(v.SpanY()) * float64(sy)),
		Width:  v.Width,
		Height: v.Height,
	}
}

// FitBounds returns a viewport covering every finite point of xs/ys with
// 5% padding on each side. Degenerate ranges are widened by one unit in
// each direction; an input with no finite points yields [-1,1]x[-1,1].
func FitBounds(xs, ys []float64, width, height int) Viewport {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	n := min(len(xs), len(ys))
	for i := 0; i < n; i++ {
		x, y := xs[i], ys[i]
		if !finite(x) || !finite(y) {
			continue
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	if minX > maxX {
		return Viewport{MinX: -1, MaxX: 1, MinY: -1, MaxY: 1, Width: width, Height: height}
	}
	minX, maxX = pad(minX, maxX)
	minY, maxY = pad(minY, maxY)
	return Viewport{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY, Width: width, Height: height}
}

func pad(lo, hi float64) (float64, float64) {
	if hi-lo == 0 {
		return lo - 1, hi + 1
	}
	p := (hi - lo) * 0.05
	return lo - p, hi + p
}

// Finite reports whether both coordinates are neither NaN nor infinite.
func Finite(x, y float64) bool {
	return finite(x) && finite(y)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
