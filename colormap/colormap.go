// Package colormap maps aggregation bins to colors.
//
// The mapping is split so that the CPU renderer and the GPU compute
// shader produce bit-identical pixels:
//
//  1. Weights turns bins into integer weights on the CPU. All floating
//     point work (log scaling, mean normalization) happens here, once.
//  2. Level normalizes a weight against the largest weight using only
//     32-bit integer arithmetic, which WGSL reproduces exactly.
//  3. The level indexes a 256-entry RGBA lookup table.
//
// Weight zero always maps to transparent black.
package colormap

import (
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/plotlod/plot"
)

// RGBA8 is an 8-bit RGBA color.
type RGBA8 struct {
	R, G, B, A uint8
}

// Packed returns the color as a little-endian u32 (R in the low byte),
// the layout the colormap shader reads and writes.
func (c RGBA8) Packed() uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

// Unpack is the inverse of RGBA8.Packed.
func Unpack(p uint32) RGBA8 {
	return RGBA8{R: uint8(p), G: uint8(p >> 8), B: uint8(p >> 16), A: uint8(p >> 24)} //nolint:gosec // G115: byte extraction
}

// Scale selects how bins become weights.
type Scale int

const (
	// Linear weights bins by point count (density).
	Linear Scale = iota

	// Log weights bins by log2(1+count) so sparse regions stay visible
	// next to dense clusters.
	Log

	// Mean weights bins by their mean value, normalized over the
	// non-empty bins of the frame.
	Mean
)

func (s Scale) String() string {
	switch s {
	case Linear:
		return "linear"
	case Log:
		return "log"
	case Mean:
		return "mean"
	default:
		return fmt.Sprintf("Scale(%d)", int(s))
	}
}

// ParseScale parses a scale name.
func ParseScale(name string) (Scale, error) {
	switch strings.ToLower(name) {
	case "linear", "density", "":
		return Linear, nil
	case "log":
		return Log, nil
	case "mean":
		return Mean, nil
	}
	return Linear, fmt.Errorf("unknown colormap scale %q: %w", name, plot.ErrConfiguration)
}

// fixedOne is 1.0 in the 16.16 fixed point used for fractional weights.
const fixedOne = 1 << 16

// Colormap is a lookup table plus the scale used to build weights.
type Colormap struct {
	Name  string
	LUT   [256]RGBA8
	Scale Scale
}

// WithScale returns a copy of c using scale s.
func (c *Colormap) WithScale(s Scale) *Colormap {
	cp := *c
	cp.Scale = s
	return &cp
}

// Weights converts bins to integer weights. Empty bins get weight zero;
// every non-empty bin gets a weight of at least one.
func (c *Colormap) Weights(bins []plot.Bin) []uint32 {
	w := make([]uint32, len(bins))
	switch c.Scale {
	case Log:
		for i, b := range bins {
			if b.Count > 0 {
				w[i] = uint32(math.Round(math.Log2(1+float64(b.Count)) * fixedOne))
			}
		}
	case Mean:
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, b := range bins {
			if b.Count > 0 {
				m := b.Mean()
				lo, hi = math.Min(lo, m), math.Max(hi, m)
			}
		}
		span := hi - lo
		for i, b := range bins {
			if b.Count == 0 {
				continue
			}
			f := 1.0
			if span > 0 {
				f = (b.Mean() - lo) / span
			}
			if math.IsNaN(f) {
				f = 0
			}
			w[i] = 1 + uint32(math.Round(f*(fixedOne-1)))
		}
	default:
		for i, b := range bins {
			w[i] = b.Count
		}
	}
	return w
}

// maxSafe is the largest weight that can be multiplied by 255 in 32 bits.
const maxSafe = math.MaxUint32 / 255

// Level maps weight w to a LUT index against the frame maximum maxW.
// Both values are shifted right together until maxW*255 fits in 32 bits,
// then level = w*255/maxW. Non-zero weights never map to level zero.
func Level(w, maxW uint32) uint8 {
	if maxW == 0 {
		return 0
	}
	sw, sm := w, maxW
	for sm > maxSafe {
		sw >>= 1
		sm >>= 1
	}
	l := sw * 255 / sm
	if w > 0 && l == 0 {
		l = 1
	}
	return uint8(min(l, 255)) //nolint:gosec // G115: clamped
}

// MaxWeight returns the largest weight.
func MaxWeight(weights []uint32) uint32 {
	var m uint32
	for _, w := range weights {
		m = max(m, w)
	}
	return m
}

// Color returns the color of weight w against maxW.
func (c *Colormap) Color(w, maxW uint32) RGBA8 {
	if w == 0 {
		return RGBA8{}
	}
	return c.LUT[Level(w, maxW)]
}

// Map converts weights to packed colors, one per weight.
func (c *Colormap) Map(weights []uint32) []uint32 {
	maxW := MaxWeight(weights)
	out := make([]uint32, len(weights))
	for i, w := range weights {
		out[i] = c.Color(w, maxW).Packed()
	}
	return out
}

// MapBins is Map(c.Weights(bins)).
func (c *Colormap) MapBins(bins []plot.Bin) []uint32 {
	return c.Map(c.Weights(bins))
}

// Packed returns the LUT as packed u32 words for upload to the GPU.
func (c *Colormap) Packed() []uint32 {
	out := make([]uint32, len(c.LUT))
	for i, col := range c.LUT {
		out[i] = col.Packed()
	}
	return out
}
