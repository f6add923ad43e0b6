package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/plot"
	"github.com/gogpu/plotlod/raster"
)

// Handle identifies an uploaded frame. Handles are small values that are
// safe to pass around; the buffer behind a handle never leaves the
// Manager. The zero Handle is invalid, and handles are never reused, so a
// handle from before a device loss stays invalid.
type Handle uint32

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	budget   uint64
	colormap *colormap.Colormap
	style    raster.Style
}

func defaultManagerOptions() managerOptions {
	return managerOptions{
		budget:   DefaultBudgetBytes,
		colormap: colormap.Viridis(),
		style:    raster.DefaultStyle(),
	}
}

// WithBudget sets the device memory budget in bytes.
func WithBudget(bytes uint64) Option {
	return func(o *managerOptions) {
		if bytes > 0 {
			o.budget = bytes
		}
	}
}

// WithColormap sets the colormap for aggregated frames.
func WithColormap(cm *colormap.Colormap) Option {
	return func(o *managerOptions) {
		if cm != nil {
			o.colormap = cm
		}
	}
}

// WithStyle sets the point color.
func WithStyle(st raster.Style) Option {
	return func(o *managerOptions) {
		o.style = st
	}
}

// Stats is a snapshot of the Manager's memory use.
type Stats struct {
	BudgetBytes    uint64
	AllocatedBytes uint64
	InUseBytes     uint64
	PooledBytes    uint64

	Handles int
	Pooled  int

	Allocations  uint64
	Reuses       uint64
	Evictions    uint64
	DeviceLosses uint64
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("GPU[%d/%d MB, %d handles, %d pooled (%d KB), %d allocs, %d reuses, %d evictions, %d losses]",
		s.AllocatedBytes>>20, s.BudgetBytes>>20, s.Handles, s.Pooled, s.PooledBytes>>10,
		s.Allocations, s.Reuses, s.Evictions, s.DeviceLosses)
}

// Manager owns every device buffer. It uploads frames into pooled
// buffers, hands out reference-counted Handles, issues draws, and
// recovers from device loss.
//
// Manager is safe for concurrent use, though draws are expected from a
// single render goroutine.
type Manager struct {
	mu sync.Mutex

	dev   Device
	caps  plot.Capability
	pool  *bufferPool
	cm    *colormap.Colormap
	style raster.Style

	handles map[Handle]*allocation
	next    Handle
	visible map[string]bool

	lut    Buffer
	losses uint64
	closed bool
}

// NewManager creates a Manager for dev. The Manager does not take
// ownership of dev.
func NewManager(dev Device, opts ...Option) *Manager {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		dev:     dev,
		caps:    dev.Capability(),
		pool:    newBufferPool(dev, o.budget),
		cm:      o.colormap,
		style:   o.style,
		handles: make(map[Handle]*allocation),
		visible: make(map[string]bool),
	}
}

// Capability returns the capability of the current device.
func (m *Manager) Capability() plot.Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// Upload copies f into a pooled device buffer and returns a handle with
// one reference. mode must match f.Mode. Aggregated frames are stored as
// colormap weights when the device supports compute, otherwise as colors
// mapped on the CPU.
func (m *Manager) Upload(f plot.Frame, mode plot.RenderMode, plotID string) (Handle, error) {
	if !mode.Valid() || f.Mode != mode {
		return 0, fmt.Errorf("upload %v frame as %v: %w", f.Mode, mode, plot.ErrConfiguration)
	}

	a := &allocation{mode: mode, plotID: plotID}
	var data []byte
	switch mode {
	case plot.Aggregated:
		if len(f.Bins) != int(f.BinsX)*int(f.BinsY) {
			return 0, fmt.Errorf("aggregated frame has %d bins for %dx%d: %w",
				len(f.Bins), f.BinsX, f.BinsY, plot.ErrConfiguration)
		}
		a.count, a.binsX, a.binsY = len(f.Bins), f.BinsX, f.BinsY
		weights := m.cm.Weights(f.Bins)
		a.maxWeight = colormap.MaxWeight(weights)

		m.mu.Lock()
		compute := m.caps.SupportsCompute
		m.mu.Unlock()
		if compute {
			data = encodeWords(weights)
		} else {
			data = encodeWords(m.cm.Map(weights))
			a.mapped = true
		}
	default:
		a.count = len(f.Points)
		data = encodePoints(raster.PointPixels(f.Points, f.Viewport), mode == plot.Instanced)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrManagerClosed
	}

	got, err := m.pool.acquire(alignUp(uint64(max(len(data), 1))), "plot_"+mode.String(), m.isVisible, nil)
	if err != nil {
		return 0, m.deviceError(err)
	}
	if err := m.dev.WriteBuffer(got.buf, data); err != nil {
		m.pool.release(got)
		return 0, m.deviceError(fmt.Errorf("upload %d bytes: %w", len(data), err))
	}

	m.next++
	got.handle, got.refs, got.plotID = m.next, 1, plotID
	got.mode, got.count, got.binsX, got.binsY = a.mode, a.count, a.binsX, a.binsY
	got.maxWeight, got.mapped = a.maxWeight, a.mapped
	m.handles[got.handle] = got
	return got.handle, nil
}

// Retain adds a reference to h.
func (m *Manager) Retain(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.handles[h]
	if !ok {
		return ErrInvalidHandle
	}
	a.refs++
	return nil
}

// Release drops a reference to h. At zero the buffer returns to the pool,
// or is freed if the pool is over budget.
func (m *Manager) Release(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.handles[h]
	if !ok {
		return ErrInvalidHandle
	}
	a.refs--
	if a.refs > 0 {
		return nil
	}
	delete(m.handles, h)
	m.pool.release(a)
	return nil
}

// SetVisible records which plots are on screen. Buffers of other plots
// are evicted first under memory pressure.
func (m *Manager) SetVisible(plotIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.visible)
	for _, id := range plotIDs {
		m.visible[id] = true
	}
}

func (m *Manager) isVisible(plotID string) bool {
	return plotID != "" && m.visible[plotID]
}

// DrawDirect draws a Direct handle, six vertices per point.
func (m *Manager) DrawDirect(h Handle, vp plot.Viewport) (*raster.PixelBuffer, error) {
	return m.drawPoints(h, vp, plot.Direct)
}

// DrawInstanced draws an Instanced handle, one instance per point.
func (m *Manager) DrawInstanced(h Handle, vp plot.Viewport) (*raster.PixelBuffer, error) {
	return m.drawPoints(h, vp, plot.Instanced)
}

func (m *Manager) drawPoints(h Handle, vp plot.Viewport, mode plot.RenderMode) (*raster.PixelBuffer, error) {
	if err := vp.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.lookup(h, mode)
	if err != nil {
		return nil, err
	}
	pb, err := m.dev.DrawPoints(PointsCall{
		Points:    a.buf,
		Count:     a.count,
		Instanced: mode == plot.Instanced,
		Width:     vp.Width,
		Height:    vp.Height,
		Color:     m.style.Point,
	})
	if err != nil {
		return nil, m.deviceError(fmt.Errorf("draw %v: %w", mode, err))
	}
	return pb, nil
}

// DrawAggregated draws an Aggregated handle of binsX x binsY bins. With
// compute support the weights are mapped to colors by the colormap
// compute pass first; otherwise the buffer already holds colors.
func (m *Manager) DrawAggregated(h Handle, binsX, binsY uint32, vp plot.Viewport) (*raster.PixelBuffer, error) {
	if err := vp.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.lookup(h, plot.Aggregated)
	if err != nil {
		return nil, err
	}
	if a.binsX != binsX || a.binsY != binsY {
		return nil, fmt.Errorf("handle holds %dx%d bins, draw asked for %dx%d: %w",
			a.binsX, a.binsY, binsX, binsY, plot.ErrConfiguration)
	}

	colors := a.buf
	if !a.mapped {
		scratch, err := m.mapColors(a)
		if err != nil {
			return nil, m.deviceError(err)
		}
		defer m.pool.release(scratch)
		colors = scratch.buf
	}

	pb, err := m.dev.DrawGrid(GridCall{
		Colors: colors,
		BinsX:  binsX,
		BinsY:  binsY,
		Width:  vp.Width,
		Height: vp.Height,
	})
	if err != nil {
		return nil, m.deviceError(fmt.Errorf("draw aggregated: %w", err))
	}
	return pb, nil
}

// mapColors runs the colormap compute pass for a into a scratch buffer.
func (m *Manager) mapColors(a *allocation) (*allocation, error) {
	if m.lut == nil {
		lut, err := m.dev.CreateBuffer(alignUp(256*4), "colormap_lut")
		if err != nil {
			return nil, fmt.Errorf("create LUT: %w", err)
		}
		if err := m.dev.WriteBuffer(lut, encodeWords(m.cm.Packed())); err != nil {
			m.dev.DestroyBuffer(lut)
			return nil, fmt.Errorf("upload LUT: %w", err)
		}
		m.lut = lut
	}

	scratch, err := m.pool.acquire(alignUp(uint64(a.count)*4), "plot_colors", m.isVisible, a)
	if err != nil {
		return nil, err
	}
	err = m.dev.MapColors(ColormapCall{
		Weights:   a.buf,
		LUT:       m.lut,
		Colors:    scratch.buf,
		Count:     uint32(a.count), //nolint:gosec // G115: bin count is bounded by the grid cap
		MaxWeight: a.maxWeight,
	})
	if err != nil {
		m.pool.release(scratch)
		return nil, fmt.Errorf("colormap dispatch: %w", err)
	}
	return scratch, nil
}

func (m *Manager) lookup(h Handle, mode plot.RenderMode) (*allocation, error) {
	if m.closed {
		return nil, ErrManagerClosed
	}
	a, ok := m.handles[h]
	switch {
	case !ok:
		return nil, ErrInvalidHandle
	case a.evicted:
		return nil, ErrHandleEvicted
	case a.mode != mode:
		return nil, fmt.Errorf("handle uploaded as %v, drawn as %v: %w", a.mode, mode, ErrModeMismatch)
	}
	m.pool.touch(a)
	return a, nil
}

// deviceError recovers from device loss before returning err.
func (m *Manager) deviceError(err error) error {
	if errors.Is(err, plot.ErrDeviceLost) {
		m.recoverLocked()
	}
	return err
}

// HandleDeviceLoss drops every buffer and handle, replaces the device,
// and returns the re-detected capability. It runs automatically when a
// draw or upload observes plot.ErrDeviceLost.
func (m *Manager) HandleDeviceLoss() plot.Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverLocked()
	return m.caps
}

func (m *Manager) recoverLocked() {
	m.losses++
	m.pool.reset()
	clear(m.handles)
	m.lut = nil

	caps, err := m.dev.Recover()
	if err != nil {
		slogger().Warn("gpu: device recovery failed, continuing on CPU", "err", err)
		caps = plot.CPUOnly()
	}
	m.caps = caps
	slogger().Warn("gpu: device lost, buffers dropped", "losses", m.losses, "capability", caps.String())
}

// Losses returns how many device losses the Manager has handled.
func (m *Manager) Losses() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.losses
}

// SetBudget changes the memory budget, freeing pooled buffers if the
// pool is now over it.
func (m *Manager) SetBudget(bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool.budget = bytes
	m.pool.trim()
}

// Stats returns a snapshot of memory use.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, pooledBytes := m.pool.pooled()
	return Stats{
		BudgetBytes:    m.pool.budget,
		AllocatedBytes: m.pool.used,
		InUseBytes:     m.pool.used - pooledBytes,
		PooledBytes:    pooledBytes,
		Handles:        len(m.handles),
		Pooled:         n,
		Allocations:    m.pool.allocations,
		Reuses:         m.pool.reuses,
		Evictions:      m.pool.evictions,
		DeviceLosses:   m.losses,
	}
}

// Close frees every buffer. Handles become invalid. The device itself is
// left to its owner.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pool.destroyAll()
	if m.lut != nil {
		m.dev.DestroyBuffer(m.lut)
		m.lut = nil
	}
	clear(m.handles)
	m.closed = true
}

func isOOM(err error) bool {
	return errors.Is(err, plot.ErrOutOfMemory)
}
