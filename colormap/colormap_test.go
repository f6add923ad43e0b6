package colormap

import (
	"errors"
	"math"
	"testing"

	"github.com/gogpu/plotlod/plot"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		w, maxW uint32
		want    uint8
	}{
		{0, 0, 0},
		{0, 100, 0},
		{100, 100, 255},
		{50, 100, 127},
		{1, 1000, 1},
		{math.MaxUint32, math.MaxUint32, 255},
		{1, math.MaxUint32, 1},
		{math.MaxUint32 / 2, math.MaxUint32, 127},
		{maxSafe, maxSafe, 255},
	}
	for _, tt := range tests {
		if got := Level(tt.w, tt.maxW); got != tt.want {
			t.Errorf("Level(%d, %d) = %d, want %d", tt.w, tt.maxW, got, tt.want)
		}
	}
}

func TestLevelMonotonic(t *testing.T) {
	const maxW = 3_000_000_000
	prev := uint8(0)
	for w := uint32(0); w < maxW; w += 7_654_321 {
		l := Level(w, maxW)
		if l < prev {
			t.Fatalf("Level(%d) = %d < previous %d", w, l, prev)
		}
		prev = l
	}
}

func TestWeights(t *testing.T) {
	bins := []plot.Bin{{}, {Count: 1, Sum: 10}, {Count: 3, Sum: 3}, {Count: 7, Sum: 70}}

	lin := Viridis().Weights(bins)
	if lin[0] != 0 || lin[1] != 1 || lin[3] != 7 {
		t.Errorf("linear weights = %v", lin)
	}

	log := Viridis().WithScale(Log).Weights(bins)
	if log[0] != 0 || log[1] != fixedOne || log[2] != 2*fixedOne || log[3] != 3*fixedOne {
		t.Errorf("log weights = %v", log)
	}

	mean := Viridis().WithScale(Mean).Weights(bins)
	if mean[0] != 0 || mean[2] != 1 || mean[1] != fixedOne || mean[3] != fixedOne {
		t.Errorf("mean weights = %v", mean)
	}
}

func TestMeanWeightsConstant(t *testing.T) {
	bins := []plot.Bin{{Count: 2, Sum: 4}, {Count: 1, Sum: 2}}
	w := Viridis().WithScale(Mean).Weights(bins)
	if w[0] != w[1] || w[0] == 0 {
		t.Errorf("constant mean weights = %v", w)
	}
}

func TestMap(t *testing.T) {
	cm := Viridis()
	out := cm.Map([]uint32{0, 5, 10})
	if out[0] != 0 {
		t.Errorf("zero weight = %#x, want transparent", out[0])
	}
	if Unpack(out[2]) != cm.LUT[255] {
		t.Errorf("max weight = %+v, want LUT[255] %+v", Unpack(out[2]), cm.LUT[255])
	}
	if Unpack(out[1]) != cm.LUT[127] {
		t.Errorf("half weight = %+v, want LUT[127]", Unpack(out[1]))
	}
}

func TestPackedRoundTrip(t *testing.T) {
	c := RGBA8{R: 1, G: 2, B: 3, A: 4}
	if c.Packed() != 0x04030201 {
		t.Errorf("Packed() = %#x", c.Packed())
	}
	if Unpack(c.Packed()) != c {
		t.Error("Unpack(Packed()) changed the color")
	}
}

func TestPresets(t *testing.T) {
	for _, name := range Names() {
		cm, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		for i, c := range cm.LUT {
			if c.A != 255 {
				t.Fatalf("%s LUT[%d] not opaque", name, i)
			}
		}
	}
	v, _ := ByName("VIRIDIS")
	if v.LUT[0] != (RGBA8{68, 1, 84, 255}) || v.LUT[255] != (RGBA8{253, 231, 37, 255}) {
		t.Errorf("viridis endpoints = %+v, %+v", v.LUT[0], v.LUT[255])
	}
	if _, err := ByName("jet"); !errors.Is(err, plot.ErrConfiguration) {
		t.Errorf("ByName(jet) error = %v", err)
	}
	if _, err := ParseScale("cubic"); !errors.Is(err, plot.ErrConfiguration) {
		t.Errorf("ParseScale(cubic) error = %v", err)
	}
}
