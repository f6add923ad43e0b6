package gpu

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/plot"
	"github.com/gogpu/plotlod/raster"
)

// Uniform block sizes, matching the WGSL Params structs.
const (
	pointsUniformSize   = 32
	colormapUniformSize = 16
	gridUniformSize     = 16
)

// copyPitchAlignment is the BytesPerRow granularity of texture copies.
const copyPitchAlignment = 256

// halBufferUsage lets one pooled buffer serve as vertex input, storage
// input or output, and upload target.
const halBufferUsage = gputypes.BufferUsageVertex | gputypes.BufferUsageStorage |
	gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc

// opener opens (or reopens) the underlying HAL device.
type opener func() (hal.OpenDevice, plot.Capability, error)

// HALDevice implements Device on a wgpu HAL device. Every draw renders
// into an RGBA8 texture and reads it back; calls are serialized.
type HALDevice struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	caps   plot.Capability
	gen    int
	pipes  *halPipelines

	reopen  opener
	release func(hal.Device) // nil when the device is borrowed
}

type halBuffer struct {
	buf   hal.Buffer
	size  uint64
	gen   int
	label string
}

func (b *halBuffer) Size() uint64 { return b.size }

var _ Device = (*HALDevice)(nil)

// newHALDevice builds the pipelines on an open device. reopen may be nil,
// in which case Recover fails.
func newHALDevice(od hal.OpenDevice, caps plot.Capability, reopen opener, release func(hal.Device)) (*HALDevice, error) {
	d := &HALDevice{
		device:  od.Device,
		queue:   od.Queue,
		caps:    caps,
		reopen:  reopen,
		release: release,
	}
	pipes, err := newHALPipelines(d.device)
	if err != nil {
		return nil, err
	}
	d.pipes = pipes
	return d, nil
}

// Capability implements Device.
func (d *HALDevice) Capability() plot.Capability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// CreateBuffer implements Device.
func (d *HALDevice) CreateBuffer(size uint64, label string) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil, fmt.Errorf("create %s: %w", label, plot.ErrDeviceLost)
	}
	if d.caps.MaxBufferSize > 0 && size > d.caps.MaxBufferSize {
		return nil, fmt.Errorf("create %s: %d bytes exceeds device limit %d: %w",
			label, size, d.caps.MaxBufferSize, plot.ErrOutOfMemory)
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: halBufferUsage,
	})
	if err != nil {
		return nil, halError("create "+label, err)
	}
	return &halBuffer{buf: buf, size: size, gen: d.gen, label: label}, nil
}

// DestroyBuffer implements Device.
func (d *HALDevice) DestroyBuffer(buf Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := buf.(*halBuffer)
	if !ok || b.gen != d.gen || d.device == nil || b.buf == nil {
		return
	}
	d.device.DestroyBuffer(b.buf)
	b.buf = nil
}

// WriteBuffer implements Device.
func (d *HALDevice) WriteBuffer(buf Buffer, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if uint64(len(data)) > b.size {
		return fmt.Errorf("write %d bytes into %d byte buffer %s: %w", len(data), b.size, b.label, plot.ErrConfiguration)
	}
	if err := d.queue.WriteBuffer(b.buf, 0, data); err != nil {
		return halError("write "+b.label, err)
	}
	return nil
}

// DrawPoints implements Device.
func (d *HALDevice) DrawPoints(call PointsCall) (*raster.PixelBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(call.Points)
	if err != nil {
		return nil, err
	}

	params := make([]byte, pointsUniformSize)
	putFloat(params[0:], float32(call.Width))
	putFloat(params[4:], float32(call.Height))
	for i, c := range premultiply(call.Color) {
		putFloat(params[16+4*i:], c)
	}
	uniform, err := d.uniform("points_params", params)
	if err != nil {
		return nil, err
	}
	defer d.device.DestroyBuffer(uniform)

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "points_bind_group",
		Layout: d.pipes.pointsLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Size: pointsUniformSize}},
		},
	})
	if err != nil {
		return nil, halError("create points bind group", err)
	}
	defer d.device.DestroyBindGroup(bg)

	count := uint32(call.Count) //nolint:gosec // G115: point counts fit the buffer size
	return d.renderTarget("points", call.Width, call.Height, func(rp hal.RenderPassEncoder) {
		rp.SetBindGroup(0, bg, nil)
		rp.SetVertexBuffer(0, b.buf, 0)
		if call.Instanced {
			rp.SetPipeline(d.pipes.instanced)
			rp.Draw(directVertices, count, 0, 0)
			return
		}
		rp.SetPipeline(d.pipes.direct)
		rp.Draw(count*directVertices, 1, 0, 0)
	})
}

// MapColors implements Device.
func (d *HALDevice) MapColors(call ColormapCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.caps.SupportsCompute {
		return fmt.Errorf("colormap dispatch on %s: compute unsupported: %w", d.caps.AdapterName, plot.ErrConfiguration)
	}
	weights, err := d.buffer(call.Weights)
	if err != nil {
		return err
	}
	lut, err := d.buffer(call.LUT)
	if err != nil {
		return err
	}
	colors, err := d.buffer(call.Colors)
	if err != nil {
		return err
	}

	uniform, err := d.uniform("colormap_params", encodeWords([]uint32{call.Count, call.MaxWeight, 0, 0}))
	if err != nil {
		return err
	}
	defer d.device.DestroyBuffer(uniform)

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "colormap_bind_group",
		Layout: d.pipes.colormapLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Size: colormapUniformSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: weights.buf.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: lut.buf.NativeHandle()}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: colors.buf.NativeHandle()}},
		},
	})
	if err != nil {
		return halError("create colormap bind group", err)
	}
	defer d.device.DestroyBindGroup(bg)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "colormap_encoder"})
	if err != nil {
		return halError("create command encoder", err)
	}
	if err := encoder.BeginEncoding("colormap"); err != nil {
		return halError("begin encoding", err)
	}
	cp := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "colormap_pass"})
	cp.SetPipeline(d.pipes.colormap)
	cp.SetBindGroup(0, bg, nil)
	cp.Dispatch((call.Count+255)/256, 1, 1)
	cp.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return halError("end encoding", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)
	return d.submit(cmdBuf)
}

// DrawGrid implements Device.
func (d *HALDevice) DrawGrid(call GridCall) (*raster.PixelBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	colors, err := d.buffer(call.Colors)
	if err != nil {
		return nil, err
	}

	params := encodeWords([]uint32{call.BinsX, call.BinsY, uint32(call.Width), uint32(call.Height)}) //nolint:gosec // G115: bounded by MaxTextureSize
	uniform, err := d.uniform("grid_params", params)
	if err != nil {
		return nil, err
	}
	defer d.device.DestroyBuffer(uniform)

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "grid_bind_group",
		Layout: d.pipes.gridLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Size: gridUniformSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: colors.buf.NativeHandle()}},
		},
	})
	if err != nil {
		return nil, halError("create grid bind group", err)
	}
	defer d.device.DestroyBindGroup(bg)

	return d.renderTarget("grid", call.Width, call.Height, func(rp hal.RenderPassEncoder) {
		rp.SetPipeline(d.pipes.grid)
		rp.SetBindGroup(0, bg, nil)
		rp.Draw(3, 1, 0, 0)
	})
}

// Recover implements Device. It drops the lost device and opens a new one.
func (d *HALDevice) Recover() (plot.Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardown()
	d.gen++
	if d.reopen == nil {
		return plot.CPUOnly(), fmt.Errorf("recover: borrowed device cannot be reopened: %w", plot.ErrDeviceLost)
	}
	od, caps, err := d.reopen()
	if err != nil {
		return plot.CPUOnly(), fmt.Errorf("recover: %w", err)
	}
	pipes, err := newHALPipelines(od.Device)
	if err != nil {
		if d.release != nil {
			d.release(od.Device)
		}
		return plot.CPUOnly(), fmt.Errorf("recover: %w", err)
	}
	d.device, d.queue, d.caps, d.pipes = od.Device, od.Queue, caps, pipes
	slogger().Info("gpu: device reopened", "adapter", caps.AdapterName)
	return caps, nil
}

// Destroy implements Device.
func (d *HALDevice) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardown()
}

func (d *HALDevice) teardown() {
	if d.device == nil {
		return
	}
	if d.pipes != nil {
		d.pipes.destroy(d.device)
		d.pipes = nil
	}
	if d.release != nil {
		d.release(d.device)
	}
	d.device, d.queue = nil, nil
}

func (d *HALDevice) buffer(buf Buffer) (*halBuffer, error) {
	if d.device == nil {
		return nil, plot.ErrDeviceLost
	}
	b, ok := buf.(*halBuffer)
	if !ok || b.gen != d.gen {
		return nil, errForeignBuffer
	}
	if b.buf == nil {
		return nil, fmt.Errorf("buffer %s was destroyed: %w", b.label, errForeignBuffer)
	}
	return b, nil
}

// uniform creates and fills a uniform buffer. The caller destroys it.
func (d *HALDevice) uniform(label string, data []byte) (hal.Buffer, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, halError("create "+label, err)
	}
	if err := d.queue.WriteBuffer(buf, 0, data); err != nil {
		d.device.DestroyBuffer(buf)
		return nil, halError("write "+label, err)
	}
	return buf, nil
}

// renderTarget clears a w x h RGBA8 texture, records a render pass into
// it, and reads the pixels back.
func (d *HALDevice) renderTarget(label string, w, h int, record func(hal.RenderPassEncoder)) (*raster.PixelBuffer, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%s target %dx%d: %w", label, w, h, plot.ErrConfiguration)
	}
	if limit := int(d.caps.MaxTextureSize); limit > 0 && (w > limit || h > limit) {
		return nil, fmt.Errorf("%s target %dx%d exceeds texture limit %d: %w", label, w, h, limit, plot.ErrConfiguration)
	}
	tw, th := uint32(w), uint32(h) //nolint:gosec // G115: bounded by MaxTextureSize

	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label + "_target",
		Size:          hal.Extent3D{Width: tw, Height: th, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, halError("create "+label+" target", err)
	}
	defer d.device.DestroyTexture(tex)

	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_target_view",
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, halError("create "+label+" target view", err)
	}
	defer d.device.DestroyTextureView(view)

	bytesPerRow := tw * 4
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(th)
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_staging",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, halError("create "+label+" staging buffer", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "_encoder"})
	if err != nil {
		return nil, halError("create command encoder", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return nil, halError("begin encoding", err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: label + "_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{},
		}},
	})
	record(rp)
	rp.End()

	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	encoder.CopyTextureToBuffer(tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: alignedBytesPerRow, RowsPerImage: th},
		TextureBase:  hal.ImageCopyTexture{Texture: tex},
		Size:         hal.Extent3D{Width: tw, Height: th, DepthOrArrayLayers: 1},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, halError("end encoding", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)
	if err := d.submit(cmdBuf); err != nil {
		return nil, err
	}

	mapping, err := d.device.MapBuffer(staging, 0, stagingSize)
	if err != nil {
		return nil, halError("map "+label+" staging buffer", err)
	}
	defer func() { _ = d.device.UnmapBuffer(staging) }()
	if mapping.Ptr == nil {
		return nil, fmt.Errorf("map %s staging buffer: nil mapping: %w", label, plot.ErrDeviceLost)
	}
	readback := unsafe.Slice((*byte)(mapping.Ptr), stagingSize)

	pb := raster.NewPixelBuffer(w, h)
	out := pb.Data()
	for row := range h {
		src := row * int(alignedBytesPerRow)
		dst := row * int(bytesPerRow)
		copy(out[dst:dst+int(bytesPerRow)], readback[src:src+int(bytesPerRow)])
	}
	return pb, nil
}

// submit runs one command buffer to completion.
func (d *HALDevice) submit(cmdBuf hal.CommandBuffer) error {
	if _, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return halError("submit", err)
	}
	if err := d.device.WaitIdle(); err != nil {
		return halError("wait for GPU", err)
	}
	return nil
}

// halError maps HAL failures onto the plot error kinds.
func halError(op string, err error) error {
	switch {
	case errors.Is(err, hal.ErrDeviceLost):
		return fmt.Errorf("%s: %w: %w", op, plot.ErrDeviceLost, err)
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("%s: %w: %w", op, plot.ErrOutOfMemory, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func premultiply(c colormap.RGBA8) [4]float32 {
	a := float32(c.A) / 255
	return [4]float32{float32(c.R) / 255 * a, float32(c.G) / 255 * a, float32(c.B) / 255 * a, a}
}
