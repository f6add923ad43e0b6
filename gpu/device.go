package gpu

import (
	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/plot"
	"github.com/gogpu/plotlod/raster"
)

// Buffer is device memory created by a Device. Only the Manager holds
// Buffers; callers see Handles.
type Buffer interface {
	Size() uint64
}

// PointsCall draws Count points from an uploaded point buffer into a
// Width x Height target. Direct buffers hold six quad vertices per point;
// Instanced buffers hold one center per point.
type PointsCall struct {
	Points    Buffer
	Count     int
	Instanced bool
	Width     int
	Height    int
	Color     colormap.RGBA8
}

// ColormapCall maps Count u32 weights to packed RGBA colors with the
// 256-entry packed LUT, writing Colors. MaxWeight is the frame maximum.
type ColormapCall struct {
	Weights   Buffer
	LUT       Buffer
	Colors    Buffer
	Count     uint32
	MaxWeight uint32
}

// GridCall scales a BinsX x BinsY grid of packed colors onto a
// Width x Height target with nearest-bin lookup.
type GridCall struct {
	Colors       Buffer
	BinsX, BinsY uint32
	Width        int
	Height       int
}

// Device is the GPU abstraction the Manager drives. Errors that mean the
// device is gone wrap plot.ErrDeviceLost; failed allocations wrap
// plot.ErrOutOfMemory.
type Device interface {
	Capability() plot.Capability

	CreateBuffer(size uint64, label string) (Buffer, error)
	DestroyBuffer(b Buffer)
	WriteBuffer(b Buffer, data []byte) error

	// DrawPoints renders points and reads the target back.
	DrawPoints(call PointsCall) (*raster.PixelBuffer, error)

	// MapColors runs the colormap compute pass.
	MapColors(call ColormapCall) error

	// DrawGrid renders a color grid and reads the target back.
	DrawGrid(call GridCall) (*raster.PixelBuffer, error)

	// Recover replaces a lost device and returns the new capability.
	// Buffers created before the loss are invalid afterwards.
	Recover() (plot.Capability, error)

	Destroy()
}
