package plotlod

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/gogpu/plotlod/cache"
	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/gpu"
	"github.com/gogpu/plotlod/internal/parallel"
	"github.com/gogpu/plotlod/lod"
	"github.com/gogpu/plotlod/plot"
	"github.com/gogpu/plotlod/raster"
	"github.com/gogpu/plotlod/sample"
)

// Result is one rendered frame of a plot.
type Result struct {
	// Mode is the mode of the drawn frame.
	Mode plot.RenderMode
	// Badge is the mode badge, e.g. "Aggregated (50M points)".
	Badge string
	// Pixels is the drawn frame, premultiplied RGBA.
	Pixels *raster.PixelBuffer
	// Frame is the sampled frame that was drawn.
	Frame plot.Frame
	// Rows is the row count of the series.
	Rows int

	// Stale is set when sampling for the requested viewport is still
	// running and the previous frame was drawn instead.
	Stale bool
	// Degraded is set when the GPU failed and the CPU drew the frame.
	Degraded bool
	// GPU is set when the device drew the frame.
	GPU bool
	// Seq is the request number of the drawn frame.
	Seq uint64
}

// Stats is a snapshot of renderer state.
type Stats struct {
	Capability plot.Capability
	Cache      cache.Stats
	GPU        gpu.Stats
	Plots      int
}

// Renderer renders plots. Render is meant to be called from one render
// goroutine; sampling above the async threshold runs on the worker pool.
type Renderer struct {
	cfg    Config
	policy *lod.Policy
	frames *cache.FrameCache
	pool   *parallel.WorkerPool
	cpu    *raster.Renderer
	cm     *colormap.Colormap
	style  raster.Style

	dev        gpu.Device
	mgr        *gpu.Manager // nil without a device
	ownsDev    bool
	ownsFrames bool

	mu     sync.Mutex
	plots  map[string]*Plot
	closed bool
}

// New creates a Renderer. Unless WithDevice is given, the device is
// chosen by cfg.GPU; with GPUAuto a machine without a usable GPU renders
// on the CPU.
func New(cfg Config, opts ...Option) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{workers: cfg.Workers}
	for _, opt := range opts {
		opt(&o)
	}

	cm := o.colormap
	if cm == nil {
		var err error
		if cm, err = cfg.colormap(); err != nil {
			return nil, err
		}
	}
	style := raster.DefaultStyle()
	if o.style != nil {
		style = *o.style
	}
	workers := o.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	r := &Renderer{
		cfg:    cfg,
		cm:     cm,
		style:  style,
		frames: o.frames,
		plots:  make(map[string]*Plot),
	}
	r.pool = parallel.NewWorkerPool(workers)
	r.cpu = raster.NewRenderer(r.pool)
	if r.frames == nil {
		r.frames = cache.NewFrameCache(cfg.CacheEntries, cfg.CacheBytes)
		r.ownsFrames = true
	}

	r.dev, r.ownsDev = o.device, false
	if r.dev == nil {
		r.dev, r.ownsDev = r.openDevice()
	}
	caps := plot.CPUOnly()
	if r.dev != nil {
		r.mgr = gpu.NewManager(r.dev,
			gpu.WithBudget(cfg.GPUBudgetBytes),
			gpu.WithColormap(cm),
			gpu.WithStyle(style),
		)
		caps = r.mgr.Capability()
	}

	policy, err := lod.NewPolicy(cfg.Thresholds(), caps)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.policy = policy
	Logger().Info("plotlod: renderer ready", "capability", caps.String(), "workers", workers)
	return r, nil
}

// openDevice opens the device selected by cfg.GPU. A nil device means CPU.
func (r *Renderer) openDevice() (gpu.Device, bool) {
	switch r.cfg.GPU {
	case GPUSoft:
		return gpu.NewSoftDevice(gpu.SoftCapability(), 0, r.pool), true
	case GPUAuto:
		d, err := gpu.Open()
		if err != nil {
			Logger().Warn("plotlod: no GPU, rendering on the CPU", "error", err)
			return nil, false
		}
		return d, true
	default:
		return nil, false
	}
}

// NewPlot creates a plot for s.
func (r *Renderer) NewPlot(s plot.Series) *Plot {
	p := newPlot(r, s)
	r.mu.Lock()
	r.plots[p.id] = p
	r.mu.Unlock()
	return p
}

func (r *Renderer) forget(p *Plot) {
	r.mu.Lock()
	delete(r.plots, p.id)
	r.mu.Unlock()
	if r.policy != nil {
		r.policy.Forget(p.id)
	}
}

// SetVisible records which plots are on screen. GPU buffers of the other
// plots are evicted first under memory pressure.
func (r *Renderer) SetVisible(plots ...*Plot) {
	if r.mgr == nil {
		return
	}
	ids := make([]string, len(plots))
	for i, p := range plots {
		ids[i] = p.id
	}
	r.mgr.SetVisible(ids...)
}

// Capability returns the capability the policy currently decides with.
func (r *Renderer) Capability() plot.Capability {
	return r.policy.Capability()
}

// Render draws p into vp.
//
// An invalid viewport fails with ErrConfiguration and leaves the displayed
// frame untouched. A missing or empty series renders an empty frame. When
// sampling is offloaded, Render returns at once with the previous frame
// marked Stale; a later Render picks up the finished frame from the cache.
func (r *Renderer) Render(ctx context.Context, p *Plot, vp plot.Viewport) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if r.isClosed() || p.isClosed() {
		return Result{}, ErrClosed
	}
	if err := vp.Validate(); err != nil {
		Logger().Warn("plotlod: render rejected", "plot", p.id, "error", err)
		return Result{}, err
	}

	s := p.Series()
	if err := plot.Available(s); err != nil {
		Logger().Debug("plotlod: nothing to draw", "plot", p.id, "reason", err)
		seq := p.next()
		f := plot.Frame{Mode: plot.Direct, Viewport: vp}
		p.accept(seq, f)
		return r.drawCPU(f, 0, seq)
	}
	rows := s.Len()

	prev, hadPrev := r.policy.Last(p.id)
	d, err := r.policy.Decide(p.id, rows, vp)
	if err != nil {
		Logger().Warn("plotlod: render rejected", "plot", p.id, "rows", rows, "error", err)
		return Result{}, err
	}
	if hadPrev && prev != d.Mode {
		Logger().Debug("plotlod: mode switch", "plot", p.id, "from", prev, "to", d.Mode, "rows", rows)
	}

	r.frames.Observe(s.ID(), s.Version())
	key := cache.KeyFor(s, vp, r.cfg.ViewportBucket, d.Mode, d.Target)
	seq := p.next()

	f, ok := r.frames.Get(key)
	if !ok {
		if rows > r.cfg.AsyncThresholdRows && sample.Offloadable(d.Mode) {
			r.offload(p, seq, s, vp, d, key)
			return r.stale(p, vp, rows, d.Mode)
		}
		f, _ = r.frames.GetOrCompute(key, func() plot.Frame {
			return sample.ForDecision(s, vp, d)
		})
	}
	p.accept(seq, f)
	return r.draw(p, f, key, rows, seq)
}

// offload samples on the worker pool. The result lands in the frame
// cache and is displayed unless a newer request was displayed first.
func (r *Renderer) offload(p *Plot, seq uint64, s plot.Series, vp plot.Viewport, d lod.Decision, key cache.FrameKey) {
	if !p.claim(key) {
		return
	}
	job := func() {
		defer p.settle(key)
		f, _ := r.frames.GetOrCompute(key, func() plot.Frame {
			return sample.ForDecision(s, vp, d)
		})
		if !p.accept(seq, f) {
			Logger().Debug("plotlod: discarded superseded frame", "plot", p.id, "seq", seq)
		}
	}
	if !r.pool.TrySubmit(job) {
		job()
	}
}

// stale draws the displayed frame into vp while a request is pending.
// Points are re-projected; a bin grid is stretched over the new viewport.
func (r *Renderer) stale(p *Plot, vp plot.Viewport, rows int, mode plot.RenderMode) (Result, error) {
	f, seq, ok := p.Frame()
	if !ok {
		f = plot.Frame{Mode: mode}
	}
	f.Viewport = vp
	res, err := r.drawCPU(f, rows, seq)
	res.Stale = true
	return res, err
}

// draw renders f on the GPU when one is available, else on the CPU.
func (r *Renderer) draw(p *Plot, f plot.Frame, key cache.FrameKey, rows int, seq uint64) (Result, error) {
	if r.mgr == nil || !r.mgr.Capability().HasGPU() || f.Empty() {
		return r.drawCPU(f, rows, seq)
	}

	pb, err := r.drawGPU(p, f, key)
	if err == nil {
		res := r.result(f, pb, rows, seq)
		res.GPU = true
		return res, nil
	}

	switch {
	case errors.Is(err, plot.ErrDeviceLost):
		caps := r.mgr.Capability()
		r.policy.SetCapability(caps)
		p.dropHandle()
		Logger().Warn("plotlod: device lost, frame drawn on the CPU", "plot", p.id, "capability", caps.String())
	case errors.Is(err, plot.ErrOutOfMemory):
		Logger().Warn("plotlod: GPU out of memory, frame drawn on the CPU", "plot", p.id, "error", err)
	default:
		return Result{}, err
	}
	res, err := r.drawCPU(f, rows, seq)
	res.Degraded = true
	return res, err
}

func (r *Renderer) drawGPU(p *Plot, f plot.Frame, key cache.FrameKey) (*raster.PixelBuffer, error) {
	h, err := p.uploadedHandle(r.mgr, key, f)
	if err != nil {
		return nil, err
	}
	pb, err := r.drawHandle(h, f)
	if errors.Is(err, gpu.ErrHandleEvicted) || errors.Is(err, gpu.ErrInvalidHandle) {
		p.dropHandle()
		if h, err = p.uploadedHandle(r.mgr, key, f); err != nil {
			return nil, err
		}
		pb, err = r.drawHandle(h, f)
	}
	return pb, err
}

func (r *Renderer) drawHandle(h gpu.Handle, f plot.Frame) (*raster.PixelBuffer, error) {
	switch f.Mode {
	case plot.Instanced:
		return r.mgr.DrawInstanced(h, f.Viewport)
	case plot.Aggregated:
		return r.mgr.DrawAggregated(h, f.BinsX, f.BinsY, f.Viewport)
	default:
		return r.mgr.DrawDirect(h, f.Viewport)
	}
}

func (r *Renderer) drawCPU(f plot.Frame, rows int, seq uint64) (Result, error) {
	pb := raster.NewPixelBuffer(f.Viewport.Width, f.Viewport.Height)
	var err error
	switch {
	case len(f.Points) == 0 && len(f.Bins) == 0:
	case f.Mode == plot.Aggregated:
		err = r.cpu.RenderAggregated(pb, f, r.cm)
	default:
		err = r.cpu.RenderPoints(pb, f, r.style)
	}
	if err != nil {
		return Result{}, fmt.Errorf("render %v on the CPU: %w", f.Mode, err)
	}
	return r.result(f, pb, rows, seq), nil
}

func (r *Renderer) result(f plot.Frame, pb *raster.PixelBuffer, rows int, seq uint64) Result {
	res := Result{
		Mode:   f.Mode,
		Badge:  Badge(f.Mode, rows),
		Pixels: pb,
		Frame:  f,
		Rows:   rows,
		Seq:    seq,
	}
	if r.cfg.Badge {
		raster.DrawBadge(pb, res.Badge)
	}
	return res
}

// RenderLine draws p as a line through per-column min/max summaries, on
// the CPU. It suits time series denser than the pixel grid.
func (r *Renderer) RenderLine(ctx context.Context, p *Plot, vp plot.Viewport) (*raster.PixelBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.isClosed() || p.isClosed() {
		return nil, ErrClosed
	}
	if err := vp.Validate(); err != nil {
		Logger().Warn("plotlod: line render rejected", "plot", p.id, "error", err)
		return nil, err
	}
	pb := raster.NewPixelBuffer(vp.Width, vp.Height)
	cols := sample.ColumnAggregate(p.Series(), vp)
	if cols == nil {
		return pb, nil
	}
	if err := r.cpu.RenderColumns(pb, cols, vp, r.style); err != nil {
		return nil, err
	}
	return pb, nil
}

// Purge drops every cached frame, for memory pressure.
func (r *Renderer) Purge() int {
	return r.frames.Purge()
}

// Stats returns a snapshot of the cache and GPU state.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	n := len(r.plots)
	r.mu.Unlock()
	st := Stats{Capability: r.Capability(), Cache: r.frames.Stats(), Plots: n}
	if r.mgr != nil {
		st.GPU = r.mgr.Stats()
	}
	return st
}

func (r *Renderer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close closes every plot, waits for offloaded work, and releases the
// cache, the GPU buffers, and an owned device. Close is idempotent.
func (r *Renderer) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	plots := make([]*Plot, 0, len(r.plots))
	for _, p := range r.plots {
		plots = append(plots, p)
	}
	r.mu.Unlock()

	for _, p := range plots {
		p.Close()
	}
	r.pool.Close()
	if r.mgr != nil {
		r.mgr.Close()
	}
	if r.ownsDev && r.dev != nil {
		r.dev.Destroy()
	}
	if r.ownsFrames {
		r.frames.Close()
	}
}
