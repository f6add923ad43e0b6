package sample

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/plotlod/lod"
	"github.com/gogpu/plotlod/plot"
)

var unitViewport = plot.Viewport{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, Width: 100, Height: 100}

func mustSeries(t testing.TB, x, y []float64) *plot.VersionedSeries {
	t.Helper()
	s, err := plot.NewSeries(x, y)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

func randomSeries(t testing.TB, n int, seed uint64) *plot.VersionedSeries {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = r.Float64()
		y[i] = r.Float64()
	}
	return mustSeries(t, x, y)
}

func TestDirectMatchesBruteForce(t *testing.T) {
	s := randomSeries(t, 5000, 1)
	vp := plot.Viewport{MinX: 0.25, MaxX: 0.75, MinY: 0.1, MaxY: 0.6, Width: 200, Height: 100}

	f := Direct(s, vp)
	if f.Mode != plot.Direct {
		t.Fatalf("Mode = %v, want Direct", f.Mode)
	}

	var want []int
	for i := range s.X() {
		if vp.ContainsMargin(s.X()[i], s.Y()[i], EdgeMarginPx) {
			want = append(want, i)
		}
	}
	if len(f.Points) != len(want) {
		t.Fatalf("len(Points) = %d, want %d", len(f.Points), len(want))
	}
	for i, p := range f.Points {
		if p.Index != want[i] {
			t.Fatalf("Points[%d].Index = %d, want %d", i, p.Index, want[i])
		}
	}
	if f.SourceRows != len(want) {
		t.Errorf("SourceRows = %d, want %d", f.SourceRows, len(want))
	}
}

func TestDirectDropsNonFinite(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	s := mustSeries(t,
		[]float64{0.1, nan, 0.3, 0.4, inf},
		[]float64{0.1, 0.2, nan, 0.4, 0.5})

	f := Direct(s, unitViewport)
	if len(f.Points) != 2 {
		t.Fatalf("len(Points) = %d, want 2", len(f.Points))
	}
	if f.Points[0].Index != 0 || f.Points[1].Index != 3 {
		t.Errorf("indices = %d,%d, want 0,3", f.Points[0].Index, f.Points[1].Index)
	}
}

func TestDirectKeepsEdgeMargin(t *testing.T) {
	// Half a pixel outside the right edge still splats into the last column.
	halfPx := 0.5 / float64(unitViewport.Width)
	s := mustSeries(t, []float64{1 + halfPx, 1 + 3*halfPx*2}, []float64{0.5, 0.5})

	f := Direct(s, unitViewport)
	if len(f.Points) != 1 || f.Points[0].Index != 0 {
		t.Errorf("Points = %+v, want only row 0", f.Points)
	}
}

func TestEmptySeries(t *testing.T) {
	s := mustSeries(t, nil, nil)

	if f := Direct(s, unitViewport); !f.Empty() {
		t.Errorf("Direct of empty series has %d points", f.Len())
	}
	if f := LTTB(s, unitViewport, 10); !f.Empty() {
		t.Errorf("LTTB of empty series has %d points", f.Len())
	}
	f := AggregateBins(s, unitViewport, 4, 3)
	if len(f.Bins) != 12 || f.TotalCount() != 0 {
		t.Errorf("AggregateBins of empty series: %d bins, total %d", len(f.Bins), f.TotalCount())
	}
	if f.SeriesID != s.ID() || f.Version != 1 {
		t.Errorf("frame identity = %q@%d", f.SeriesID, f.Version)
	}
}

func TestLTTBBounds(t *testing.T) {
	s := randomSeries(t, 10_000, 2)

	for _, target := range []int{1, 2, 3, 10, 500, 9_999} {
		f := LTTB(s, unitViewport, target)
		if len(f.Points) != target {
			t.Errorf("LTTB(target=%d) returned %d points", target, len(f.Points))
		}
		if f.SourceRows != 10_000 {
			t.Errorf("SourceRows = %d", f.SourceRows)
		}
	}
}

func TestLTTBKeepsEndpointsAndOrder(t *testing.T) {
	n := 1000
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i) / float64(n)
		y[i] = 0.5 + 0.4*math.Sin(float64(i)/20)
	}
	s := mustSeries(t, x, y)

	f := LTTB(s, unitViewport, 50)
	if f.Points[0].Index != 0 || f.Points[len(f.Points)-1].Index != n-1 {
		t.Errorf("endpoints = %d..%d", f.Points[0].Index, f.Points[len(f.Points)-1].Index)
	}
	for i := 1; i < len(f.Points); i++ {
		if f.Points[i].Index <= f.Points[i-1].Index {
			t.Fatalf("indices not increasing at %d: %d <= %d", i, f.Points[i].Index, f.Points[i-1].Index)
		}
	}
}

func TestLTTBIdempotent(t *testing.T) {
	s := randomSeries(t, 20_000, 3)
	first := LTTB(s, unitViewport, 300)

	xs := make([]float64, len(first.Points))
	ys := make([]float64, len(first.Points))
	for i, p := range first.Points {
		xs[i], ys[i] = p.X, p.Y
	}
	second := LTTB(mustSeries(t, xs, ys), unitViewport, 300)

	if len(second.Points) != len(first.Points) {
		t.Fatalf("second pass has %d points, want %d", len(second.Points), len(first.Points))
	}
	for i := range first.Points {
		if second.Points[i].X != first.Points[i].X || second.Points[i].Y != first.Points[i].Y {
			t.Fatalf("point %d changed on the second pass", i)
		}
	}
}

func TestLTTBTiesPickLowerRow(t *testing.T) {
	// A flat line: every candidate triangle has zero area.
	n := 100
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i) / float64(n)
		y[i] = 0.5
	}
	f := LTTB(mustSeries(t, x, y), unitViewport, 10)

	every := float64(n-2) / 8
	for i := 1; i < len(f.Points)-1; i++ {
		want := int(math.Floor(float64(i-1)*every)) + 1
		if f.Points[i].Index != want {
			t.Errorf("bucket %d picked row %d, want %d", i-1, f.Points[i].Index, want)
		}
	}
}

func TestAggregateBinsCoverage(t *testing.T) {
	s := randomSeries(t, 50_000, 4)
	f := AggregateBins(s, unitViewport, 37, 23)

	if f.BinsX != 37 || f.BinsY != 23 || len(f.Bins) != 37*23 {
		t.Fatalf("grid = %dx%d with %d bins", f.BinsX, f.BinsY, len(f.Bins))
	}
	if got := f.TotalCount(); got != 50_000 {
		t.Errorf("sum of counts = %d, want 50000", got)
	}
	if f.SourceRows != 50_000 {
		t.Errorf("SourceRows = %d", f.SourceRows)
	}
}

func TestAggregateBinsEdges(t *testing.T) {
	// Corners of the closed viewport land in the corner bins.
	s := mustSeries(t,
		[]float64{0, 1, 0, 1, 0.5, 1.5},
		[]float64{0, 0, 1, 1, 0.5, 0.5})
	f := AggregateBins(s, unitViewport, 2, 2)

	want := [][3]uint32{
		{0, 0, 1}, // (0,0)
		{1, 0, 1}, // (1,0)
		{0, 1, 1}, // (0,1)
		{1, 1, 2}, // (1,1) and (0.5,0.5)
	}
	for _, w := range want {
		if got := f.BinAt(w[0], w[1]).Count; got != w[2] {
			t.Errorf("bin (%d,%d) count = %d, want %d", w[0], w[1], got, w[2])
		}
	}
	if f.TotalCount() != 5 {
		t.Errorf("total = %d, want 5 (x=1.5 is outside)", f.TotalCount())
	}
}

func TestAggregateBinsMeanUsesValues(t *testing.T) {
	s := mustSeries(t, []float64{0.1, 0.2, 0.9}, []float64{0.1, 0.2, 0.9})
	s, err := s.WithValues([]float64{10, 20, math.NaN()})
	if err != nil {
		t.Fatal(err)
	}
	f := AggregateBins(s, unitViewport, 2, 2)

	if m := f.BinAt(0, 0).Mean(); m != 15 {
		t.Errorf("low bin mean = %g, want 15", m)
	}
	// A non-finite value falls back to y.
	if m := f.BinAt(1, 1).Mean(); m != 0.9 {
		t.Errorf("high bin mean = %g, want 0.9", m)
	}
}

func TestAggregateBinsLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10M point aggregation in short mode")
	}
	const n = 10_000_000
	s := randomSeries(t, n, 5)
	vp := plot.Viewport{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, Width: 1920, Height: 1080}

	d, err := lod.Decide(n, vp, plot.Capability{HasDiscreteGPU: true}, nil, lod.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	if d.Mode != plot.Aggregated {
		t.Fatalf("mode = %v, want Aggregated", d.Mode)
	}
	f := ForDecision(s, vp, d)
	if f.BinsX != 1920 || f.BinsY != 1080 {
		t.Errorf("grid = %dx%d, want 1920x1080", f.BinsX, f.BinsY)
	}
	if f.TotalCount() != n {
		t.Errorf("total = %d, want %d", f.TotalCount(), n)
	}
}

func TestColumnAggregate(t *testing.T) {
	s := mustSeries(t,
		[]float64{0.001, 0.002, 0.003, 0.999, 2},
		[]float64{0.2, 0.8, 0.5, -3, 0.1})
	vp := plot.Viewport{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, Width: 10, Height: 10}

	cols := ColumnAggregate(s, vp)
	if len(cols) != 10 {
		t.Fatalf("len = %d", len(cols))
	}
	c := cols[0]
	if c.Count != 3 || c.MinY != 0.2 || c.MaxY != 0.8 || math.Abs(c.Mean-0.5) > 1e-12 {
		t.Errorf("column 0 = %+v", c)
	}
	if cols[9].Count != 1 || cols[9].MinY != -3 {
		t.Errorf("column 9 = %+v, y must not be clipped", cols[9])
	}
}

func TestForDecision(t *testing.T) {
	s := randomSeries(t, 1000, 6)
	tests := []struct {
		d    lod.Decision
		mode plot.RenderMode
		n    int
	}{
		{lod.Decision{Mode: plot.Direct, Target: 1000}, plot.Direct, 1000},
		{lod.Decision{Mode: plot.Instanced, Target: 100}, plot.Instanced, 100},
		{lod.Decision{Mode: plot.Aggregated, Target: 16, BinsX: 4, BinsY: 4}, plot.Aggregated, 16},
	}
	for _, tt := range tests {
		f := ForDecision(s, unitViewport, tt.d)
		if f.Mode != tt.mode || f.Len() != tt.n {
			t.Errorf("ForDecision(%v) = %v with %d entries", tt.d, f.Mode, f.Len())
		}
	}
	if Offloadable(plot.Direct) || !Offloadable(plot.Aggregated) {
		t.Error("Offloadable mismatch")
	}
}
