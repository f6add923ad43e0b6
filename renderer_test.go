package plotlod

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/plotlod/cache"
	"github.com/gogpu/plotlod/gpu"
	"github.com/gogpu/plotlod/plot"
)

var testViewport = plot.Viewport{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, Width: 64, Height: 48}

func randomSeries(t testing.TB, n int, seed uint64) *plot.VersionedSeries {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = r.Float64()
		y[i] = r.Float64()
	}
	s, err := plot.NewSeries(x, y)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// smallConfig shrinks the thresholds so every mode is reachable with a
// few thousand rows: Direct up to 100, Instanced up to 1000.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.DirectMax = 100
	cfg.InstancedMax = 1000
	cfg.AsyncThresholdRows = 1 << 30
	cfg.GPU = GPUOff
	cfg.Badge = false
	cfg.Workers = 2
	return cfg
}

func newTestRenderer(t *testing.T, cfg Config, opts ...Option) *Renderer {
	t.Helper()
	r, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func softRenderer(t *testing.T, cfg Config) (*Renderer, *gpu.SoftDevice) {
	t.Helper()
	dev := gpu.NewSoftDevice(gpu.SoftCapability(), 0, nil)
	return newTestRenderer(t, cfg, WithDevice(dev)), dev
}

func TestRenderModeSelection(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		gpu     bool
		want    plot.RenderMode
		wantGPU bool
	}{
		{"direct on GPU", 50, true, plot.Direct, true},
		{"instanced on GPU", 500, true, plot.Instanced, true},
		{"aggregated on GPU", 5000, true, plot.Aggregated, true},
		{"direct on CPU", 50, false, plot.Direct, false},
		{"no instancing without GPU", 500, false, plot.Aggregated, false},
		{"aggregated on CPU", 5000, false, plot.Aggregated, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r *Renderer
			if tt.gpu {
				r, _ = softRenderer(t, smallConfig())
			} else {
				r = newTestRenderer(t, smallConfig())
			}
			p := r.NewPlot(randomSeries(t, tt.rows, 1))
			res, err := r.Render(context.Background(), p, testViewport)
			if err != nil {
				t.Fatalf("Render() = %v", err)
			}
			if res.Mode != tt.want {
				t.Errorf("Mode = %v, want %v", res.Mode, tt.want)
			}
			if res.GPU != tt.wantGPU {
				t.Errorf("GPU = %t, want %t", res.GPU, tt.wantGPU)
			}
			if res.Stale || res.Degraded {
				t.Errorf("Stale = %t, Degraded = %t, want neither", res.Stale, res.Degraded)
			}
			if res.Rows != tt.rows {
				t.Errorf("Rows = %d, want %d", res.Rows, tt.rows)
			}
			if res.Pixels.Width() != testViewport.Width || res.Pixels.Height() != testViewport.Height {
				t.Errorf("pixels are %dx%d", res.Pixels.Width(), res.Pixels.Height())
			}
		})
	}
}

func TestRenderBadge(t *testing.T) {
	cfg := smallConfig()
	cfg.Badge = true
	r := newTestRenderer(t, cfg)
	p := r.NewPlot(randomSeries(t, 50, 2))

	res, err := r.Render(context.Background(), p, testViewport)
	if err != nil {
		t.Fatal(err)
	}
	if res.Badge != "Direct (50 points)" {
		t.Errorf("Badge = %q", res.Badge)
	}
}

func TestRenderAggregatedMatchesAcrossDevices(t *testing.T) {
	s := randomSeries(t, 5000, 3)

	cpu := newTestRenderer(t, smallConfig())
	soft, _ := softRenderer(t, smallConfig())

	want, err := cpu.Render(context.Background(), cpu.NewPlot(s), testViewport)
	if err != nil {
		t.Fatal(err)
	}
	got, err := soft.Render(context.Background(), soft.NewPlot(s), testViewport)
	if err != nil {
		t.Fatal(err)
	}
	if !got.GPU || want.GPU {
		t.Fatalf("GPU flags: soft=%t cpu=%t", got.GPU, want.GPU)
	}
	if d := got.Pixels.MaxDiff(want.Pixels); d != 0 {
		t.Errorf("device and CPU aggregated frames differ by %d", d)
	}
}

func TestRenderUsesFrameCache(t *testing.T) {
	frames := cache.NewFrameCache(64, 0)
	defer frames.Close()
	var computes atomic.Int32
	frames.SetComputeHook(func(cache.FrameKey) { computes.Add(1) })

	r := newTestRenderer(t, smallConfig(), WithCache(frames))
	s := randomSeries(t, 5000, 4)
	p := r.NewPlot(s)

	for range 3 {
		if _, err := r.Render(context.Background(), p, testViewport); err != nil {
			t.Fatal(err)
		}
	}
	if n := computes.Load(); n != 1 {
		t.Errorf("sampled %d times for one viewport, want 1", n)
	}

	zoomed := testViewport
	zoomed.MaxX = 0.5
	if _, err := r.Render(context.Background(), p, zoomed); err != nil {
		t.Fatal(err)
	}
	if n := computes.Load(); n != 2 {
		t.Errorf("sampled %d times after a zoom, want 2", n)
	}

	next, err := s.Replace(s.X(), s.Y(), nil)
	if err != nil {
		t.Fatal(err)
	}
	p.SetSeries(next)
	if _, err := r.Render(context.Background(), p, testViewport); err != nil {
		t.Fatal(err)
	}
	if n := computes.Load(); n != 3 {
		t.Errorf("sampled %d times after a new version, want 3", n)
	}
}

func TestRenderAsyncServesStaleFrame(t *testing.T) {
	cfg := smallConfig()
	cfg.AsyncThresholdRows = 1000
	r := newTestRenderer(t, cfg)
	p := r.NewPlot(randomSeries(t, 5000, 5))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := r.Render(ctx, p, testViewport)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Stale {
		t.Error("first render of a large series should be stale")
	}
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	f, seq, ok := p.Frame()
	if !ok || seq != 1 || f.Mode != plot.Aggregated {
		t.Fatalf("Frame() = mode %v, seq %d, ok %t after the offloaded request", f.Mode, seq, ok)
	}

	second, err := r.Render(ctx, p, testViewport)
	if err != nil {
		t.Fatal(err)
	}
	if second.Stale {
		t.Error("render after the request finished is still stale")
	}
	if second.Frame.TotalCount() != 5000 {
		t.Errorf("TotalCount = %d, want 5000", second.Frame.TotalCount())
	}
}

func TestRenderKeepsNewestOffloadedFrame(t *testing.T) {
	cfg := smallConfig()
	cfg.AsyncThresholdRows = 1000
	frames := cache.NewFrameCache(64, 0)
	defer frames.Close()
	r := newTestRenderer(t, cfg, WithCache(frames))
	s := randomSeries(t, 5000, 7)
	p := r.NewPlot(s)

	first := testViewport
	second := testViewport
	second.MaxX, second.MaxY = 0.5, 0.5
	firstBucket := first.Bucket(cfg.ViewportBucket)

	// The first request blocks in the cache until the second one has
	// been displayed, so the two finish in reverse order.
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	frames.SetComputeHook(func(k cache.FrameKey) {
		if k.Bucket == firstBucket {
			close(started)
			<-release
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if res, err := r.Render(ctx, p, first); err != nil || !res.Stale {
		t.Fatalf("first Render() = stale %t, %v", res.Stale, err)
	}
	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("first request never started sampling")
	}
	if res, err := r.Render(ctx, p, second); err != nil || !res.Stale {
		t.Fatalf("second Render() = stale %t, %v", res.Stale, err)
	}

	for {
		if _, seq, _ := p.Frame(); seq == 2 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("second request was never displayed")
		case <-time.After(time.Millisecond):
		}
	}
	unblock()
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	f, seq, _ := p.Frame()
	if seq != 2 || f.Viewport != second {
		t.Errorf("displayed seq %d viewport %+v, want seq 2 viewport %+v", seq, f.Viewport, second)
	}
	// The superseded result is still cached for the next visit.
	if st := frames.Stats(); st.Computes != 2 || frames.Len() != 2 {
		t.Errorf("Computes = %d, Len = %d, want 2 and 2", st.Computes, frames.Len())
	}
}

func TestPlotWaitDrains(t *testing.T) {
	r := newTestRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 10, 8))

	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() with nothing pending = %v", err)
	}

	k := cache.FrameKey{SeriesID: p.Series().ID()}
	if !p.claim(k) {
		t.Fatal("claim of a new key failed")
	}
	if p.claim(k) {
		t.Error("second claim of the same key succeeded")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() with a request pending = %v, want DeadlineExceeded", err)
	}

	// Claims and Waits may race; every Wait returns once the count drains.
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		ki := cache.FrameKey{SeriesID: p.Series().ID(), Target: i + 1}
		go func() {
			defer wg.Done()
			if p.claim(ki) {
				p.settle(ki)
			}
		}()
		go func() {
			defer wg.Done()
			_ = p.Wait(context.Background())
		}()
	}
	p.settle(k)
	wg.Wait()
	if err := p.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after draining = %v", err)
	}
}

func TestPlotDropsSupersededResults(t *testing.T) {
	r := newTestRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 10, 6))

	older, newer := p.next(), p.next()
	if !p.accept(newer, plot.Frame{SourceRows: 2}) {
		t.Fatal("newest result was rejected")
	}
	if p.accept(older, plot.Frame{SourceRows: 1}) {
		t.Error("older result replaced a newer one")
	}
	f, seq, _ := p.Frame()
	if seq != newer || f.SourceRows != 2 {
		t.Errorf("displayed seq %d rows %d, want seq %d rows 2", seq, f.SourceRows, newer)
	}
}

func TestRenderDeviceLoss(t *testing.T) {
	r, dev := softRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 50, 7))
	ctx := context.Background()

	if res, err := r.Render(ctx, p, testViewport); err != nil || !res.GPU {
		t.Fatalf("Render() = GPU %t, %v", res.GPU, err)
	}

	dev.SimulateLoss()
	res, err := r.Render(ctx, p, testViewport)
	if err != nil {
		t.Fatalf("Render() after loss = %v", err)
	}
	if !res.Degraded || res.GPU {
		t.Errorf("after loss: Degraded = %t, GPU = %t", res.Degraded, res.GPU)
	}
	if n := dev.Counters().Recoveries; n != 1 {
		t.Errorf("Recoveries = %d, want 1", n)
	}

	res, err = r.Render(ctx, p, testViewport)
	if err != nil {
		t.Fatal(err)
	}
	if !res.GPU || res.Degraded {
		t.Errorf("after recovery: GPU = %t, Degraded = %t", res.GPU, res.Degraded)
	}
}

func TestRenderDeviceLossRedetectsCapability(t *testing.T) {
	r, dev := softRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 500, 8))
	ctx := context.Background()

	res, err := r.Render(ctx, p, testViewport)
	if err != nil || res.Mode != plot.Instanced {
		t.Fatalf("Render() = %v, %v", res.Mode, err)
	}

	dev.SetCapability(plot.CPUOnly())
	dev.SimulateLoss()
	if _, err := r.Render(ctx, p, testViewport); err != nil {
		t.Fatal(err)
	}
	if r.Capability().HasGPU() {
		t.Errorf("capability after recovery = %v, want CPU only", r.Capability())
	}

	res, err = r.Render(ctx, p, testViewport)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != plot.Aggregated || res.GPU {
		t.Errorf("without a GPU: Mode = %v, GPU = %t", res.Mode, res.GPU)
	}
}

func TestRenderOutOfMemoryFallsBack(t *testing.T) {
	r, dev := softRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 50, 9))

	dev.FailAllocations(2)
	res, err := r.Render(context.Background(), p, testViewport)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if !res.Degraded || res.GPU {
		t.Errorf("Degraded = %t, GPU = %t, want a CPU frame", res.Degraded, res.GPU)
	}

	res, err = r.Render(context.Background(), p, testViewport)
	if err != nil {
		t.Fatal(err)
	}
	if !res.GPU {
		t.Error("allocations succeed again but the frame was not drawn on the device")
	}
}

func TestRenderEmptySeries(t *testing.T) {
	r := newTestRenderer(t, smallConfig())
	empty, err := plot.NewSeries(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []plot.Series{empty, nil} {
		p := r.NewPlot(s)
		res, err := r.Render(context.Background(), p, testViewport)
		if err != nil {
			t.Fatalf("Render() = %v", err)
		}
		if !res.Frame.Empty() {
			t.Error("frame of an empty series is not empty")
		}
		for _, b := range res.Pixels.Data() {
			if b != 0 {
				t.Fatal("empty frame has drawn pixels")
			}
		}
	}
}

func TestRenderInvalidViewportKeepsFrame(t *testing.T) {
	r := newTestRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 50, 10))
	if _, err := r.Render(context.Background(), p, testViewport); err != nil {
		t.Fatal(err)
	}

	bad := []plot.Viewport{
		{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, Width: 0, Height: 10},
		{MinX: 1, MaxX: 1, MinY: 0, MaxY: 1, Width: 10, Height: 10},
	}
	for _, vp := range bad {
		if _, err := r.Render(context.Background(), p, vp); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Render(%v) = %v, want ErrConfiguration", vp, err)
		}
	}
	f, seq, ok := p.Frame()
	if !ok || seq != 1 || f.Viewport != testViewport {
		t.Errorf("displayed frame changed: seq %d, viewport %v", seq, f.Viewport)
	}
}

func TestRenderLine(t *testing.T) {
	r := newTestRenderer(t, smallConfig())
	n := 10_000
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i) / float64(n)
		y[i] = 0.5
	}
	s, err := plot.NewSeries(x, y)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := r.RenderLine(context.Background(), r.NewPlot(s), testViewport)
	if err != nil {
		t.Fatal(err)
	}
	drawn := 0
	for x := range testViewport.Width {
		for y := range testViewport.Height {
			if pb.Pixel(x, y).A != 0 {
				drawn++
				break
			}
		}
	}
	if drawn < testViewport.Width-1 {
		t.Errorf("line covers %d of %d columns", drawn, testViewport.Width)
	}
}

func TestRendererStatsAndVisibility(t *testing.T) {
	r, _ := softRenderer(t, smallConfig())
	a := r.NewPlot(randomSeries(t, 50, 11))
	b := r.NewPlot(randomSeries(t, 5000, 12))
	for _, p := range []*Plot{a, b} {
		if _, err := r.Render(context.Background(), p, testViewport); err != nil {
			t.Fatal(err)
		}
	}
	r.SetVisible(a)

	st := r.Stats()
	if st.Plots != 2 {
		t.Errorf("Plots = %d, want 2", st.Plots)
	}
	if st.GPU.Handles != 2 {
		t.Errorf("GPU handles = %d, want 2", st.GPU.Handles)
	}
	if st.Cache.Len != 2 {
		t.Errorf("cached frames = %d, want 2", st.Cache.Len)
	}

	b.Close()
	if st := r.Stats(); st.Plots != 1 || st.GPU.Handles != 1 {
		t.Errorf("after Close: Plots = %d, handles = %d", st.Plots, st.GPU.Handles)
	}
	if _, err := r.Render(context.Background(), b, testViewport); !errors.Is(err, ErrClosed) {
		t.Errorf("Render on a closed plot = %v, want ErrClosed", err)
	}
}

func TestRendererClose(t *testing.T) {
	r, err := New(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	p := r.NewPlot(randomSeries(t, 50, 13))
	r.Close()
	r.Close()
	if _, err := r.Render(context.Background(), p, testViewport); !errors.Is(err, ErrClosed) {
		t.Errorf("Render after Close = %v, want ErrClosed", err)
	}
}

func TestRenderCanceledContext(t *testing.T) {
	r := newTestRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 50, 14))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Render(ctx, p, testViewport); !errors.Is(err, context.Canceled) {
		t.Errorf("Render = %v, want context.Canceled", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.DirectMax = cfg.InstancedMax + 1
	if _, err := New(cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("New() = %v, want ErrConfiguration", err)
	}
}
