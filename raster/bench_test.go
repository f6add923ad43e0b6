package raster

import (
	"math/rand/v2"
	"testing"

	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/internal/parallel"
	"github.com/gogpu/plotlod/plot"
)

func benchPoints(n int) []plot.Point {
	r := rand.New(rand.NewPCG(7, 11))
	pts := make([]plot.Point, n)
	for i := range pts {
		pts[i] = plot.Point{X: r.Float64(), Y: r.Float64()}
	}
	return pts
}

func BenchmarkSplat(b *testing.B) {
	vp := plot.Viewport{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, Width: 1920, Height: 1080}
	xy := PointPixels(benchPoints(100_000), vp)
	dst := NewPixelBuffer(vp.Width, vp.Height)

	for _, bc := range []struct {
		name string
		pool *parallel.WorkerPool
	}{
		{"serial", nil},
		{"pool", parallel.NewWorkerPool(4)},
	} {
		b.Run(bc.name, func(b *testing.B) {
			if bc.pool != nil {
				defer bc.pool.Close()
			}
			r := NewRenderer(bc.pool)
			b.ReportAllocs()
			for b.Loop() {
				if err := r.Splat(dst, xy, white); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkBlit(b *testing.B) {
	const bx, by = 1024, 512
	colors := make([]uint32, bx*by)
	for i := range colors {
		colors[i] = colormap.RGBA8{R: uint8(i), G: uint8(i >> 8), A: 255}.Packed()
	}
	dst := NewPixelBuffer(1920, 1080)
	r := NewRenderer(nil)
	b.ReportAllocs()
	for b.Loop() {
		if err := r.Blit(dst, colors, bx, by); err != nil {
			b.Fatal(err)
		}
	}
}
