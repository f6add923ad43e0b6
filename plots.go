package plotlod

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/plotlod/cache"
	"github.com/gogpu/plotlod/gpu"
	"github.com/gogpu/plotlod/plot"
)

// Plot is the per-plot render state: the series, the displayed frame,
// the request sequence, and the GPU handle of the uploaded frame. Create
// plots with Renderer.NewPlot.
type Plot struct {
	id string
	r  *Renderer

	mu     sync.Mutex
	series plot.Series
	closed bool

	// seq is the last issued request number; shown is the request whose
	// frame is displayed. Results older than shown are dropped.
	seq      uint64
	shown    uint64
	frame    plot.Frame
	hasFrame bool

	// pending counts claimed requests; drained is closed when it
	// returns to zero.
	inflight map[cache.FrameKey]bool
	pending  int
	drained  chan struct{}

	handle   gpu.Handle
	uploaded cache.FrameKey
}

func newPlot(r *Renderer, s plot.Series) *Plot {
	return &Plot{
		id:       uuid.NewString(),
		r:        r,
		series:   s,
		inflight: make(map[cache.FrameKey]bool),
	}
}

// ID returns the plot's unique id.
func (p *Plot) ID() string { return p.id }

// Series returns the current series.
func (p *Plot) Series() plot.Series {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.series
}

// SetSeries replaces the series. The next Render samples the new
// version; cached frames of older versions are dropped then.
func (p *Plot) SetSeries(s plot.Series) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series = s
}

// Frame returns the displayed frame and its request number.
func (p *Plot) Frame() (plot.Frame, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame, p.shown, p.hasFrame
}

// Wait blocks until every offloaded sampling request of p has finished
// or ctx is done.
func (p *Plot) Wait(ctx context.Context) error {
	p.mu.Lock()
	if p.pending == 0 {
		p.mu.Unlock()
		return nil
	}
	drained := p.drained
	p.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the plot's GPU buffer and forgets its hysteresis state.
// Pending requests finish but their results are dropped.
func (p *Plot) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.dropHandle()
	p.r.forget(p)
}

func (p *Plot) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// next issues a request number.
func (p *Plot) next() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return p.seq
}

// accept displays f as the result of request seq unless a newer request
// was displayed already. It reports whether f was accepted.
func (p *Plot) accept(seq uint64, f plot.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || seq < p.shown {
		return false
	}
	p.shown, p.frame, p.hasFrame = seq, f, true
	return true
}

// claim marks k as being sampled. It returns false if it already is.
func (p *Plot) claim(k cache.FrameKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[k] {
		return false
	}
	p.inflight[k] = true
	if p.pending == 0 {
		p.drained = make(chan struct{})
	}
	p.pending++
	return true
}

func (p *Plot) settle(k cache.FrameKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, k)
	p.pending--
	if p.pending == 0 {
		close(p.drained)
	}
}

// uploadedHandle returns the handle of the frame under k, uploading f if
// the plot holds a different frame.
func (p *Plot) uploadedHandle(m *gpu.Manager, k cache.FrameKey, f plot.Frame) (gpu.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle != 0 && p.uploaded == k {
		return p.handle, nil
	}
	if p.handle != 0 {
		_ = m.Release(p.handle) // invalid after a device loss
		p.handle = 0
	}
	h, err := m.Upload(f, f.Mode, p.id)
	if err != nil {
		return 0, err
	}
	p.handle, p.uploaded = h, k
	return h, nil
}

// dropHandle releases the uploaded frame.
func (p *Plot) dropHandle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle != 0 && p.r.mgr != nil {
		_ = p.r.mgr.Release(p.handle)
	}
	p.handle = 0
}
