package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/internal/parallel"
	"github.com/gogpu/plotlod/plot"
	"github.com/gogpu/plotlod/raster"
)

// errForeignBuffer is returned when a Buffer from another device, or
// from before a recovery, reaches a SoftDevice.
var errForeignBuffer = errors.New("gpu: buffer does not belong to this device")

// SoftCapability is the capability a SoftDevice reports by default: a
// discrete GPU with compute.
func SoftCapability() plot.Capability {
	return plot.Capability{
		HasDiscreteGPU:  true,
		SupportsCompute: true,
		MaxBufferSize:   1 << 30,
		MaxTextureSize:  8192,
		AdapterName:     "soft",
	}
}

// SoftCounters counts the calls a SoftDevice has served.
type SoftCounters struct {
	Creates    int
	Destroys   int
	Writes     int
	PointDraws int
	Dispatches int
	GridDraws  int
	Recoveries int
}

// SoftDevice is a Device simulated in host memory. It executes draws with
// the raster package and the colormap with the same integer arithmetic as
// the compute shader, so its output is what the GPU path must match. It
// can simulate device loss and allocation failure.
type SoftDevice struct {
	mu       sync.Mutex
	caps     plot.Capability
	limit    uint64
	used     uint64
	gen      int
	lost     bool
	failNext int
	renderer *raster.Renderer
	counts   SoftCounters
	live     map[*softBuffer]struct{}
}

type softBuffer struct {
	data  []byte
	gen   int
	label string
}

func (b *softBuffer) Size() uint64 { return uint64(len(b.data)) }

var _ Device = (*SoftDevice)(nil)

// NewSoftDevice creates a simulated device with limit bytes of memory
// (zero is unlimited). pool may be nil.
func NewSoftDevice(caps plot.Capability, limit uint64, pool *parallel.WorkerPool) *SoftDevice {
	return &SoftDevice{
		caps:     caps,
		limit:    limit,
		renderer: raster.NewRenderer(pool),
		live:     make(map[*softBuffer]struct{}),
	}
}

// SimulateLoss makes every following call fail with plot.ErrDeviceLost
// until Recover.
func (d *SoftDevice) SimulateLoss() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// FailAllocations makes the next n CreateBuffer calls fail with
// plot.ErrOutOfMemory.
func (d *SoftDevice) FailAllocations(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// SetCapability changes the capability reported from now on, including
// after Recover.
func (d *SoftDevice) SetCapability(caps plot.Capability) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = caps
}

// Counters returns the call counters.
func (d *SoftDevice) Counters() SoftCounters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *SoftDevice) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// UsedBytes returns the bytes held by live buffers.
func (d *SoftDevice) UsedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// Capability implements Device.
func (d *SoftDevice) Capability() plot.Capability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// CreateBuffer implements Device.
func (d *SoftDevice) CreateBuffer(size uint64, label string) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, fmt.Errorf("create %s: %w", label, plot.ErrDeviceLost)
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, fmt.Errorf("create %s (%d bytes): %w", label, size, plot.ErrOutOfMemory)
	}
	if d.limit > 0 && d.used+size > d.limit {
		return nil, fmt.Errorf("create %s: %d of %d bytes used: %w", label, d.used, d.limit, plot.ErrOutOfMemory)
	}
	b := &softBuffer{data: make([]byte, size), gen: d.gen, label: label}
	d.live[b] = struct{}{}
	d.used += size
	d.counts.Creates++
	return b, nil
}

// DestroyBuffer implements Device.
func (d *SoftDevice) DestroyBuffer(buf Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := buf.(*softBuffer)
	if !ok {
		return
	}
	if _, ok := d.live[b]; !ok {
		return
	}
	delete(d.live, b)
	d.used -= b.Size()
	d.counts.Destroys++
}

// WriteBuffer implements Device.
func (d *SoftDevice) WriteBuffer(buf Buffer, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if len(data) > len(b.data) {
		return fmt.Errorf("write %d bytes into %d byte buffer %s: %w", len(data), len(b.data), b.label, plot.ErrConfiguration)
	}
	copy(b.data, data)
	d.counts.Writes++
	return nil
}

// DrawPoints implements Device.
func (d *SoftDevice) DrawPoints(call PointsCall) (*raster.PixelBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(call.Points)
	if err != nil {
		return nil, err
	}
	d.counts.PointDraws++
	pb := raster.NewPixelBuffer(call.Width, call.Height)
	xy := decodeCenters(b.data, call.Count, call.Instanced)
	if err := d.renderer.Splat(pb, xy, raster.Style{Point: call.Color}); err != nil {
		return nil, err
	}
	return pb, nil
}

// MapColors implements Device.
func (d *SoftDevice) MapColors(call ColormapCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.caps.SupportsCompute {
		return fmt.Errorf("colormap dispatch on %s: compute unsupported: %w", d.caps.AdapterName, plot.ErrConfiguration)
	}
	weights, err := d.buffer(call.Weights)
	if err != nil {
		return err
	}
	lutBuf, err := d.buffer(call.LUT)
	if err != nil {
		return err
	}
	colors, err := d.buffer(call.Colors)
	if err != nil {
		return err
	}
	d.counts.Dispatches++

	n := int(call.Count)
	w := decodeWords(weights.data, n)
	lut := decodeWords(lutBuf.data, 256)
	out := make([]uint32, n)
	for i, v := range w {
		if v > 0 {
			out[i] = lut[colormap.Level(v, call.MaxWeight)]
		}
	}
	copy(colors.data, encodeWords(out))
	return nil
}

// DrawGrid implements Device.
func (d *SoftDevice) DrawGrid(call GridCall) (*raster.PixelBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(call.Colors)
	if err != nil {
		return nil, err
	}
	d.counts.GridDraws++
	pb := raster.NewPixelBuffer(call.Width, call.Height)
	colors := decodeWords(b.data, int(call.BinsX)*int(call.BinsY))
	if err := d.renderer.Blit(pb, colors, call.BinsX, call.BinsY); err != nil {
		return nil, err
	}
	return pb, nil
}

// Recover implements Device. All earlier buffers become invalid.
func (d *SoftDevice) Recover() (plot.Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = false
	d.gen++
	clear(d.live)
	d.used = 0
	d.counts.Recoveries++
	return d.caps, nil
}

// Destroy implements Device.
func (d *SoftDevice) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.live)
	d.used = 0
}

func (d *SoftDevice) buffer(buf Buffer) (*softBuffer, error) {
	if d.lost {
		return nil, plot.ErrDeviceLost
	}
	b, ok := buf.(*softBuffer)
	if !ok || b.gen != d.gen {
		return nil, errForeignBuffer
	}
	if _, ok := d.live[b]; !ok {
		return nil, fmt.Errorf("buffer %s was destroyed: %w", b.label, errForeignBuffer)
	}
	return b, nil
}
