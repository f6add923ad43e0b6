// Package lod implements the level-of-detail policy that picks a render
// mode and a target density for a series of a given size.
//
// Decide is a pure function. Policy wraps it with the small amount of
// state needed for hysteresis (the previous mode of each plot) and the
// current GPU capability.
package lod

import (
	"fmt"
	"sync"

	"github.com/gogpu/plotlod/plot"
)

// Thresholds configures the mode boundaries.
type Thresholds struct {
	// DirectMax is the largest row count drawn without reduction.
	DirectMax int

	// InstancedMax is the largest row count drawn with GPU instancing.
	InstancedMax int

	// GridCapX and GridCapY clamp the aggregation grid.
	GridCapX, GridCapY uint32

	// DensityFactor caps instanced point counts at DensityFactor points
	// per viewport pixel.
	DensityFactor int

	// Hysteresis is the fraction of a boundary inside which the previous
	// mode is kept.
	Hysteresis float64
}

// DefaultThresholds returns the default boundaries: 50K direct, 5M
// instanced, a 2048x2048 grid, four points per pixel and a 10% band.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DirectMax:     50_000,
		InstancedMax:  5_000_000,
		GridCapX:      2048,
		GridCapY:      2048,
		DensityFactor: 4,
		Hysteresis:    0.10,
	}
}

// Validate reports inconsistent thresholds.
func (t Thresholds) Validate() error {
	switch {
	case t.DirectMax < 0 || t.InstancedMax < 0:
		return fmt.Errorf("negative thresholds (direct_max=%d, instanced_max=%d): %w",
			t.DirectMax, t.InstancedMax, plot.ErrConfiguration)
	case t.DirectMax > t.InstancedMax:
		return fmt.Errorf("direct_max %d exceeds instanced_max %d: %w",
			t.DirectMax, t.InstancedMax, plot.ErrConfiguration)
	case t.GridCapX == 0 || t.GridCapY == 0:
		return fmt.Errorf("aggregation grid cap %dx%d: %w", t.GridCapX, t.GridCapY, plot.ErrConfiguration)
	case t.DensityFactor <= 0:
		return fmt.Errorf("density factor %d: %w", t.DensityFactor, plot.ErrConfiguration)
	case t.Hysteresis < 0 || t.Hysteresis >= 0.5:
		return fmt.Errorf("hysteresis %g outside [0, 0.5): %w", t.Hysteresis, plot.ErrConfiguration)
	}
	return nil
}

// Decision is the outcome of the policy for one frame.
type Decision struct {
	Mode plot.RenderMode

	// Target is the maximum number of points to produce, or the number
	// of bins for Aggregated.
	Target int

	// BinsX and BinsY are the grid shape; zero unless Mode is Aggregated.
	BinsX, BinsY uint32
}

func (d Decision) String() string {
	if d.Mode == plot.Aggregated {
		return fmt.Sprintf("%s %dx%d", d.Mode, d.BinsX, d.BinsY)
	}
	return fmt.Sprintf("%s target=%d", d.Mode, d.Target)
}

// Decide chooses the render mode for rows points drawn into vp.
//
// Rules:
//   - rows <= DirectMax: Direct, no reduction
//   - rows <= InstancedMax with a discrete GPU: Instanced, capped at
//     DensityFactor points per pixel
//   - otherwise: Aggregated, one bin per pixel clamped to the grid cap
//
// Without a discrete GPU Instanced is never chosen. When prev is non-nil
// and rows sits within the hysteresis band of the boundary between prev
// and the new mode, prev is kept.
func Decide(rows int, vp plot.Viewport, caps plot.Capability, prev *plot.RenderMode, th Thresholds) (Decision, error) {
	if err := vp.Validate(); err != nil {
		return Decision{}, err
	}
	if err := th.Validate(); err != nil {
		return Decision{}, err
	}
	if rows < 0 {
		return Decision{}, fmt.Errorf("row count %d: %w", rows, plot.ErrConfiguration)
	}

	mode := selectMode(rows, caps, th)
	if prev != nil && prev.Valid() && *prev != mode && keepPrevious(*prev, mode, rows, caps, th) {
		mode = *prev
	}
	return decisionFor(mode, rows, vp, caps, th), nil
}

func selectMode(rows int, caps plot.Capability, th Thresholds) plot.RenderMode {
	switch {
	case rows <= th.DirectMax:
		return plot.Direct
	case rows <= th.InstancedMax && caps.HasDiscreteGPU:
		return plot.Instanced
	default:
		return plot.Aggregated
	}
}

// keepPrevious reports whether rows is close enough to the boundary
// separating prev from next that switching would risk flapping.
func keepPrevious(prev, next plot.RenderMode, rows int, caps plot.Capability, th Thresholds) bool {
	if prev == plot.Instanced && !caps.HasDiscreteGPU {
		return false
	}

	var boundary int
	switch {
	case prev == plot.Direct || next == plot.Direct:
		if prev == plot.Aggregated && caps.HasDiscreteGPU {
			// Aggregated and Direct are not adjacent with instancing available.
			return false
		}
		boundary = th.DirectMax
	default:
		boundary = th.InstancedMax
	}

	band := th.Hysteresis * float64(boundary)
	if prev < next {
		return float64(rows) <= float64(boundary)+band
	}
	return float64(rows) > float64(boundary)-band
}

func decisionFor(mode plot.RenderMode, rows int, vp plot.Viewport, caps plot.Capability, th Thresholds) Decision {
	switch mode {
	case plot.Direct:
		return Decision{Mode: plot.Direct, Target: rows}
	case plot.Instanced:
		return Decision{Mode: plot.Instanced, Target: min(rows, th.DensityFactor*vp.Pixels())}
	default:
		bx, by := GridSize(vp, caps, th)
		return Decision{Mode: plot.Aggregated, Target: int(bx) * int(by), BinsX: bx, BinsY: by}
	}
}

// GridSize returns the aggregation grid for vp: one bin per pixel,
// clamped to the configured cap and the device texture limit.
func GridSize(vp plot.Viewport, caps plot.Capability, th Thresholds) (uint32, uint32) {
	bx := clampAxis(vp.Width, th.GridCapX, caps.MaxTextureSize)
	by := clampAxis(vp.Height, th.GridCapY, caps.MaxTextureSize)
	return bx, by
}

func clampAxis(pixels int, limit, device uint32) uint32 {
	n := uint32(max(pixels, 1)) //nolint:gosec // G115: viewport resolution is validated positive
	n = min(n, limit)
	if device > 0 {
		n = min(n, device)
	}
	return n
}

// Policy is the stateful form of Decide. It remembers the last mode of
// every plot for hysteresis and holds the capability of the current
// device. It is safe for concurrent use.
type Policy struct {
	mu   sync.Mutex
	th   Thresholds
	caps plot.Capability
	last map[string]plot.RenderMode
}

// NewPolicy creates a policy. It fails if th is invalid.
func NewPolicy(th Thresholds, caps plot.Capability) (*Policy, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Policy{th: th, caps: caps, last: make(map[string]plot.RenderMode)}, nil
}

// Decide runs Decide for the plot identified by key and records the
// resulting mode.
func (p *Policy) Decide(key string, rows int, vp plot.Viewport) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var prev *plot.RenderMode
	if m, ok := p.last[key]; ok {
		prev = &m
	}
	d, err := Decide(rows, vp, p.caps, prev, p.th)
	if err != nil {
		return Decision{}, err
	}
	p.last[key] = d.Mode
	return d, nil
}

// Last returns the last mode decided for key.
func (p *Policy) Last(key string) (plot.RenderMode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.last[key]
	return m, ok
}

// Forget drops the hysteresis memory of key.
func (p *Policy) Forget(key string) {
	p.mu.Lock()
	delete(p.last, key)
	p.mu.Unlock()
}

// SetCapability replaces the device capability, typically after a device
// loss. Hysteresis memory is cleared because previous modes may no longer
// be available.
func (p *Policy) SetCapability(caps plot.Capability) {
	p.mu.Lock()
	p.caps = caps
	clear(p.last)
	p.mu.Unlock()
}

// Capability returns the current device capability.
func (p *Policy) Capability() plot.Capability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

// Thresholds returns the configured thresholds.
func (p *Policy) Thresholds() Thresholds {
	return p.th
}
