package colormap

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gogpu/plotlod/plot"
)

type stop struct {
	pos     float64
	r, g, b float64
}

var (
	viridisStops = []stop{
		{0, 68, 1, 84}, {0.125, 71, 44, 122}, {0.25, 59, 81, 139},
		{0.375, 44, 113, 142}, {0.5, 33, 144, 141}, {0.625, 39, 173, 129},
		{0.75, 92, 200, 99}, {0.875, 170, 220, 50}, {1, 253, 231, 37},
	}
	infernoStops = []stop{
		{0, 0, 0, 4}, {0.125, 31, 12, 72}, {0.25, 85, 15, 109},
		{0.375, 136, 34, 106}, {0.5, 186, 54, 85}, {0.625, 227, 89, 51},
		{0.75, 249, 140, 10}, {0.875, 249, 201, 50}, {1, 252, 255, 164},
	}
	grayStops = []stop{{0, 48, 48, 48}, {1, 255, 255, 255}}
)

var presets = map[string]*Colormap{
	"viridis":   build("viridis", viridisStops),
	"inferno":   build("inferno", infernoStops),
	"grayscale": build("grayscale", grayStops),
}

// Viridis returns the default perceptually uniform colormap.
func Viridis() *Colormap { return presets["viridis"].WithScale(Linear) }

// ByName returns a copy of a preset colormap with the linear scale.
func ByName(name string) (*Colormap, error) {
	c, ok := presets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q (have %s): %w",
			name, strings.Join(Names(), ", "), plot.ErrConfiguration)
	}
	return c.WithScale(Linear), nil
}

// Names lists the preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// build samples the piecewise-linear gradient through stops at 256
// positions. Every entry is opaque.
func build(name string, stops []stop) *Colormap {
	c := &Colormap{Name: name}
	for i := range c.LUT {
		t := float64(i) / 255
		j := 1
		for j < len(stops)-1 && stops[j].pos < t {
			j++
		}
		a, b := stops[j-1], stops[j]
		f := (t - a.pos) / (b.pos - a.pos)
		c.LUT[i] = RGBA8{
			R: channel(a.r + (b.r-a.r)*f),
			G: channel(a.g + (b.g-a.g)*f),
			B: channel(a.b + (b.b-a.b)*f),
			A: 255,
		}
	}
	return c
}

func channel(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v)))) //nolint:gosec // G115: clamped
}
