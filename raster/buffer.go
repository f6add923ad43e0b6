package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/gogpu/plotlod/colormap"
)

// PixelBuffer is a premultiplied RGBA8 pixel buffer. Row 0 is the top of
// the image, matching both image.RGBA and GPU texture readback.
type PixelBuffer struct {
	width  int
	height int
	data   []uint8 // RGBA, 4 bytes per pixel
}

// NewPixelBuffer creates a transparent buffer.
func NewPixelBuffer(width, height int) *PixelBuffer {
	width, height = max(width, 0), max(height, 0)
	return &PixelBuffer{
		width:  width,
		height: height,
		data:   make([]uint8, width*height*4),
	}
}

// WrapPixels creates a buffer over existing tightly packed RGBA data,
// such as a GPU readback.
func WrapPixels(width, height int, data []uint8) (*PixelBuffer, error) {
	if len(data) != width*height*4 {
		return nil, fmt.Errorf("raster: %d bytes for a %dx%d buffer", len(data), width, height)
	}
	return &PixelBuffer{width: width, height: height, data: data}, nil
}

// Width returns the width of the buffer.
func (b *PixelBuffer) Width() int { return b.width }

// Height returns the height of the buffer.
func (b *PixelBuffer) Height() int { return b.height }

// Data returns the raw pixel data.
func (b *PixelBuffer) Data() []uint8 { return b.data }

// Clear fills the buffer with c.
func (b *PixelBuffer) Clear(c colormap.RGBA8) {
	for i := 0; i < len(b.data); i += 4 {
		b.data[i+0] = c.R
		b.data[i+1] = c.G
		b.data[i+2] = c.B
		b.data[i+3] = c.A
	}
}

// Pixel returns the pixel at (x, y), or transparent outside the buffer.
func (b *PixelBuffer) Pixel(x, y int) colormap.RGBA8 {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return colormap.RGBA8{}
	}
	i := (y*b.width + x) * 4
	return colormap.RGBA8{R: b.data[i], G: b.data[i+1], B: b.data[i+2], A: b.data[i+3]}
}

// SetPixel sets the pixel at (x, y). Writes outside the buffer are ignored.
func (b *PixelBuffer) SetPixel(x, y int, c colormap.RGBA8) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	i := (y*b.width + x) * 4
	b.data[i+0] = c.R
	b.data[i+1] = c.G
	b.data[i+2] = c.B
	b.data[i+3] = c.A
}

// RGBA returns an image.RGBA sharing the buffer's memory.
func (b *PixelBuffer) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.data,
		Stride: b.width * 4,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// ToImage returns a copy of the buffer as an image.RGBA.
func (b *PixelBuffer) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	copy(img.Pix, b.data)
	return img
}

// SavePNG writes the buffer to a PNG file.
func (b *PixelBuffer) SavePNG(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	if err := png.Encode(f, b.RGBA()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// At implements the image.Image interface.
func (b *PixelBuffer) At(x, y int) color.Color {
	p := b.Pixel(x, y)
	return color.RGBA{R: p.R, G: p.G, B: p.B, A: p.A}
}

// Bounds implements the image.Image interface.
func (b *PixelBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.width, b.height)
}

// ColorModel implements the image.Image interface.
func (b *PixelBuffer) ColorModel() color.Model {
	return color.RGBAModel
}

// MaxDiff returns the largest per-channel difference between b and o.
// Buffers of different sizes differ by 255.
func (b *PixelBuffer) MaxDiff(o *PixelBuffer) int {
	if b.width != o.width || b.height != o.height {
		return 255
	}
	d := 0
	for i := range b.data {
		d = max(d, absDiff(b.data[i], o.data[i]))
	}
	return d
}

// Equal reports whether b and o hold the same pixels.
func (b *PixelBuffer) Equal(o *PixelBuffer) bool {
	return b.MaxDiff(o) == 0
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
