// Package plotlod renders large numeric series interactively by choosing,
// per frame, how much of the data to draw.
//
// # Overview
//
// A plot holds a series of up to hundreds of millions of (x, y) rows. For
// every frame the Renderer asks the level-of-detail policy for a mode:
//
//   - Direct: every visible point is drawn (up to 50k rows by default).
//   - Instanced: an LTTB-reduced point set is drawn with GPU instancing
//     (up to 5M rows, discrete GPU only).
//   - Aggregated: rows are binned into a 2D grid and drawn as a heatmap
//     through a colormap, on the GPU compute path when available.
//
// Sampled frames are cached by series version, viewport bucket, mode and
// target. Sampling of series above the async threshold runs on a worker
// pool; until it finishes the previous frame is shown and marked stale.
//
// # Quick Start
//
//	r, err := plotlod.New(plotlod.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	s, _ := plot.NewSeries(xs, ys)
//	p := r.NewPlot(s)
//	res, err := r.Render(ctx, p, plot.FitBounds(xs, ys, 1024, 768))
//	// res.Pixels holds the frame, res.Badge e.g. "Aggregated (50M points)"
//
// # GPU
//
// By default New opens a Vulkan device through gogpu/wgpu and falls back
// to the CPU renderer when none is available. Builds with the nogpu tag
// never touch the GPU. A host application can pass its own device with
// WithDevice and gpu.OpenShared.
//
// # Logging
//
// plotlod is silent by default. Call SetLogger to receive diagnostics
// through log/slog.
package plotlod
