package raster

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/internal/parallel"
	"github.com/gogpu/plotlod/plot"
	"github.com/gogpu/plotlod/sample"
)

// bandRows is the height of the row bands handed to workers.
const bandRows = 32

// Style controls how points and column strokes are colored.
type Style struct {
	// Point is the straight-alpha point color.
	Point colormap.RGBA8
}

// DefaultStyle returns an opaque blue point color.
func DefaultStyle() Style {
	return Style{Point: colormap.RGBA8{R: 31, G: 119, B: 180, A: 255}}
}

// premultiplied returns the point color as premultiplied floats in [0, 1].
func (s Style) premultiplied() [4]float32 {
	a := float32(s.Point.A) / 255
	return [4]float32{
		float32(s.Point.R) / 255 * a,
		float32(s.Point.G) / 255 * a,
		float32(s.Point.B) / 255 * a,
		a,
	}
}

// Renderer draws frames into pixel buffers on the CPU. A nil pool renders
// on the calling goroutine.
type Renderer struct {
	pool *parallel.WorkerPool
}

// NewRenderer returns a renderer that spreads row bands over pool.
func NewRenderer(pool *parallel.WorkerPool) *Renderer {
	return &Renderer{pool: pool}
}

// PointPixels converts points to interleaved float32 pixel coordinates
// (x0, y0, x1, y1, ...). The GPU vertex buffers hold exactly these values,
// so both renderers splat from the same positions.
func PointPixels(points []plot.Point, vp plot.Viewport) []float32 {
	out := make([]float32, 0, 2*len(points))
	for _, p := range points {
		px, py := vp.ToPixel(p.X, p.Y)
		out = append(out, float32(px), float32(py))
	}
	return out
}

// RenderPoints overwrites dst with the points of a Direct or Instanced
// frame. Each point spreads unit coverage over the four pixels whose
// centers surround it, weighted bilinearly; coverage is summed and
// clamped at one.
func (r *Renderer) RenderPoints(dst *PixelBuffer, f plot.Frame, st Style) error {
	if err := checkTarget(dst, f.Viewport); err != nil {
		return err
	}
	dst.Clear(colormap.RGBA8{})
	return r.Splat(dst, PointPixels(f.Points, f.Viewport), st)
}

// Splat accumulates points given as interleaved pixel coordinates into dst.
func (r *Renderer) Splat(dst *PixelBuffer, xy []float32, st Style) error {
	if len(xy)%2 != 0 {
		return fmt.Errorf("raster: odd coordinate count %d: %w", len(xy), plot.ErrConfiguration)
	}
	w := dst.width
	col := st.premultiplied()

	parallel.ForRows(r.pool, dst.height, bandRows, func(lo, hi int) {
		cov := make([]float32, w*(hi-lo))
		for i := 0; i < len(xy); i += 2 {
			splat(cov, w, lo, hi, xy[i], xy[i+1])
		}
		for y := lo; y < hi; y++ {
			row := cov[(y-lo)*w : (y-lo+1)*w]
			for x, c := range row {
				if c <= 0 {
					continue
				}
				a := min(c, 1)
				j := (y*w + x) * 4
				dst.data[j+0] = unorm(col[0] * a)
				dst.data[j+1] = unorm(col[1] * a)
				dst.data[j+2] = unorm(col[2] * a)
				dst.data[j+3] = unorm(col[3] * a)
			}
		}
	})
	return nil
}

// splat adds the bilinear footprint of the point at (px, py) to the rows
// [lo, hi) of cov, a w-wide coverage grid starting at row lo.
func splat(cov []float32, w, lo, hi int, px, py float32) {
	fx, fy := px-0.5, py-0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	if y0+1 < lo || y0 >= hi || x0+1 < 0 || x0 >= w {
		return
	}
	tx := fx - float32(x0)
	ty := fy - float32(y0)
	wx := [2]float32{1 - tx, tx}
	wy := [2]float32{1 - ty, ty}
	for dy := range 2 {
		y := y0 + dy
		if y < lo || y >= hi {
			continue
		}
		base := (y - lo) * w
		for dx := range 2 {
			x := x0 + dx
			if x < 0 || x >= w {
				continue
			}
			cov[base+x] += wx[dx] * wy[dy]
		}
	}
}

// unorm converts [0, 1] to 8 bits with round-to-nearest, like a GPU
// writing to an unorm8 target.
func unorm(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}

// RenderAggregated overwrites dst with an Aggregated frame colored by cm.
func (r *Renderer) RenderAggregated(dst *PixelBuffer, f plot.Frame, cm *colormap.Colormap) error {
	if err := checkTarget(dst, f.Viewport); err != nil {
		return err
	}
	if f.BinsX == 0 || f.BinsY == 0 || len(f.Bins) != int(f.BinsX)*int(f.BinsY) {
		return fmt.Errorf("raster: aggregated frame with %d bins for a %dx%d grid: %w",
			len(f.Bins), f.BinsX, f.BinsY, plot.ErrConfiguration)
	}
	return r.Blit(dst, cm.MapBins(f.Bins), f.BinsX, f.BinsY)
}

// Blit scales a grid of packed colors onto dst with nearest-bin lookup.
// Bin row 0 is the bottom of the image. Pixel (x, y) reads grid column
// ((2x+1)*binsX)/(2*width) and flipped row ((2y+1)*binsY)/(2*height).
func (r *Renderer) Blit(dst *PixelBuffer, colors []uint32, binsX, binsY uint32) error {
	bx, by := int(binsX), int(binsY)
	if bx == 0 || by == 0 || len(colors) != bx*by {
		return fmt.Errorf("raster: %d colors for a %dx%d grid: %w", len(colors), bx, by, plot.ErrConfiguration)
	}

	src := image.NewRGBA(image.Rect(0, 0, bx, by))
	parallel.ForRows(r.pool, by, bandRows, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			line := src.Pix[row*src.Stride:]
			bins := colors[(by-1-row)*bx : (by-row)*bx]
			for i, c := range bins {
				line[4*i+0] = uint8(c) //nolint:gosec // G115: byte extraction
				line[4*i+1] = uint8(c >> 8)
				line[4*i+2] = uint8(c >> 16)
				line[4*i+3] = uint8(c >> 24)
			}
		}
	})

	img := dst.RGBA()
	full := img.Bounds()
	parallel.ForRows(r.pool, dst.height, bandRows, func(lo, hi int) {
		band := img.SubImage(image.Rect(0, lo, dst.width, hi)).(*image.RGBA)
		xdraw.NearestNeighbor.Scale(band, full, src, src.Bounds(), xdraw.Src, nil)
	})
	return nil
}

// RenderColumns overwrites dst with one vertical stroke per pixel column,
// spanning the column's min and max y.
func (r *Renderer) RenderColumns(dst *PixelBuffer, cols []sample.ColumnStat, vp plot.Viewport, st Style) error {
	if err := checkTarget(dst, vp); err != nil {
		return err
	}
	if len(cols) != dst.width {
		return fmt.Errorf("raster: %d column stats for width %d: %w", len(cols), dst.width, plot.ErrConfiguration)
	}
	dst.Clear(colormap.RGBA8{})
	p := st.premultiplied()
	c := colormap.RGBA8{R: unorm(p[0]), G: unorm(p[1]), B: unorm(p[2]), A: unorm(p[3])}

	parallel.ForRows(r.pool, len(cols), bandRows, func(lo, hi int) {
		for x := lo; x < hi; x++ {
			s := cols[x]
			if s.Count == 0 {
				continue
			}
			_, top := vp.ToPixel(0, s.MaxY)
			_, bot := vp.ToPixel(0, s.MinY)
			y0 := max(int(math.Floor(top)), 0)
			y1 := min(int(math.Floor(bot)), dst.height-1)
			for y := y0; y <= y1; y++ {
				dst.SetPixel(x, y, c)
			}
		}
	})
	return nil
}

func checkTarget(dst *PixelBuffer, vp plot.Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}
	if dst == nil || dst.width != vp.Width || dst.height != vp.Height {
		return fmt.Errorf("raster: target does not match %dx%d viewport: %w", vp.Width, vp.Height, plot.ErrConfiguration)
	}
	return nil
}
