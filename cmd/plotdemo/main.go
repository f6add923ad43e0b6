// Command plotdemo renders a synthetic scatter plot at several zoom levels
// and writes one PNG per level, showing how the render mode follows the
// number of visible points.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/gogpu/plotlod"
	"github.com/gogpu/plotlod/plot"
)

func main() {
	var (
		rows    = flag.Int("rows", 2_000_000, "number of points")
		width   = flag.Int("width", 800, "image width")
		height  = flag.Int("height", 600, "image height")
		levels  = flag.Int("levels", 5, "zoom levels, each 4x deeper than the last")
		output  = flag.String("output", ".", "output directory")
		config  = flag.String("config", "", "YAML config file")
		gpuMode = flag.String("gpu", "", "override the config: auto, off, or soft")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		plotlod.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg := plotlod.DefaultConfig()
	if *config != "" {
		var err error
		if cfg, err = plotlod.LoadConfig(*config); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *gpuMode != "" {
		cfg.GPU = *gpuMode
	}

	r, err := plotlod.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	defer r.Close()
	log.Printf("Capability: %s", r.Capability())

	s, err := clusters(*rows, 1)
	if err != nil {
		log.Fatalf("Failed to build series: %v", err)
	}
	p := r.NewPlot(s)
	defer p.Close()

	ctx := context.Background()
	for level := range *levels {
		vp := zoom(level, *width, *height)
		start := time.Now()
		res, err := r.Render(ctx, p, vp)
		if err != nil {
			log.Fatalf("Render level %d: %v", level, err)
		}
		if res.Stale {
			// Offloaded: wait for the sampler and render again.
			if err := p.Wait(ctx); err != nil {
				log.Fatalf("Wait: %v", err)
			}
			if res, err = r.Render(ctx, p, vp); err != nil {
				log.Fatalf("Render level %d: %v", level, err)
			}
		}

		path := filepath.Join(*output, fmt.Sprintf("plot_%d.png", level))
		if err := res.Pixels.SavePNG(path); err != nil {
			log.Fatalf("Failed to save: %v", err)
		}
		log.Printf("%s: %s, gpu=%t, %v", path, res.Badge, res.GPU, time.Since(start).Round(time.Millisecond))
	}

	st := r.Stats()
	log.Printf("Cache: %d frames, %d hits, %d misses; GPU: %d bytes in %d buffers",
		st.Cache.Len, st.Cache.Hits, st.Cache.Misses, st.GPU.AllocatedBytes, st.GPU.Handles+st.GPU.Pooled)
}

// clusters returns n points spread over a few Gaussian clusters in the
// unit square, so that deep zooms still find data.
func clusters(n int, seed uint64) (*plot.VersionedSeries, error) {
	rng := rand.New(rand.NewPCG(seed, seed*31+7))
	centers := [][2]float64{{0.5, 0.5}, {0.2, 0.7}, {0.75, 0.25}, {0.3, 0.2}}
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		c := centers[i%len(centers)]
		sigma := 0.02 + 0.08*float64(i%len(centers))/float64(len(centers))
		x[i] = c[0] + rng.NormFloat64()*sigma
		y[i] = c[1] + rng.NormFloat64()*sigma
	}
	return plot.NewSeries(x, y)
}

// zoom returns the viewport of a zoom level centered on the main cluster.
func zoom(level, width, height int) plot.Viewport {
	half := 0.5 / math.Pow(4, float64(level))
	return plot.Viewport{
		MinX: 0.5 - half, MaxX: 0.5 + half,
		MinY: 0.5 - half, MaxY: 0.5 + half,
		Width: width, Height: height,
	}
}
