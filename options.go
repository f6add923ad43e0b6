package plotlod

import (
	"github.com/gogpu/plotlod/cache"
	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/gpu"
	"github.com/gogpu/plotlod/raster"
)

// Option configures a Renderer during creation.
//
// Example:
//
//	// Default: open a GPU if there is one, fall back to the CPU.
//	r, _ := plotlod.New(plotlod.DefaultConfig())
//
//	// Share a device owned by the host window.
//	dev, _ := gpu.OpenShared(provider)
//	r, _ := plotlod.New(cfg, plotlod.WithDevice(dev))
type Option func(*options)

type options struct {
	device   gpu.Device
	workers  int
	colormap *colormap.Colormap
	frames   *cache.FrameCache
	style    *raster.Style
}

// WithDevice sets the device to draw on instead of the one selected by
// Config.GPU. The Renderer does not destroy it on Close.
func WithDevice(d gpu.Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithWorkers overrides Config.Workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithColormap overrides the configured colormap and scale.
func WithColormap(cm *colormap.Colormap) Option {
	return func(o *options) {
		o.colormap = cm
	}
}

// WithCache shares a frame cache between renderers. The Renderer does not
// close it.
func WithCache(c *cache.FrameCache) Option {
	return func(o *options) {
		o.frames = c
	}
}

// WithStyle sets the point color.
func WithStyle(st raster.Style) Option {
	return func(o *options) {
		o.style = &st
	}
}
