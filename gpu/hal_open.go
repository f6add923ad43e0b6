// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan backend

	"github.com/gogpu/plotlod/plot"
)

// DeviceHandle provides GPU device access from a host application. A
// plot renderer embedded in a gogpu window receives the window's device
// through it instead of opening its own.
type DeviceHandle = gpucontext.DeviceProvider

// Open opens a standalone Vulkan device, preferring a discrete adapter.
// It returns ErrNoAdapter when no adapter exists. The returned device
// reopens itself on Recover.
func Open() (*HALDevice, error) {
	od, caps, release, err := openStandalone()
	if err != nil {
		return nil, err
	}
	current := release
	reopen := func() (hal.OpenDevice, plot.Capability, error) {
		od, caps, rel, err := openStandalone()
		if err == nil {
			current = rel
		}
		return od, caps, err
	}
	d, err := newHALDevice(od, caps, reopen, func(dev hal.Device) { current(dev) })
	if err != nil {
		release(od.Device)
		return nil, err
	}
	slogger().Info("gpu: device opened", "adapter", caps.AdapterName,
		"discrete", caps.HasDiscreteGPU, "maxBuffer", caps.MaxBufferSize)
	return d, nil
}

// Detect queries the adapters without keeping a device open. It returns
// plot.CPUOnly when none is usable.
func Detect() plot.Capability {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return plot.CPUOnly()
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		slogger().Debug("gpu: detect failed", "error", err)
		return plot.CPUOnly()
	}
	defer instance.Destroy()
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return plot.CPUOnly()
	}
	return adapterCapability(pickAdapter(adapters))
}

// OpenShared wraps a device owned by the host. The host keeps ownership:
// Destroy releases only pipelines, and Recover fails so the caller falls
// back to the CPU until the host hands over a new device.
func OpenShared(h DeviceHandle) (*HALDevice, error) {
	device, queue, err := sharedHAL(h)
	if err != nil {
		return nil, err
	}
	info := h.AdapterInfo()
	limits := gputypes.DefaultLimits()
	caps := plot.Capability{
		HasDiscreteGPU:  info.Type == gpucontext.AdapterTypeDiscrete,
		SupportsCompute: info.Type != gpucontext.AdapterTypeSoftware,
		MaxBufferSize:   limits.MaxBufferSize,
		MaxTextureSize:  limits.MaxTextureDimension2D,
		AdapterName:     info.Name,
	}
	return newHALDevice(hal.OpenDevice{Device: device, Queue: queue}, caps, nil, nil)
}

// sharedHAL extracts the HAL device and queue from a provider. Providers
// either expose them through HalDevice/HalQueue or return them directly.
func sharedHAL(h DeviceHandle) (hal.Device, hal.Queue, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	var dev, queue any = h.Device(), h.Queue()
	if hp, ok := h.(halProvider); ok {
		dev, queue = hp.HalDevice(), hp.HalQueue()
	}
	device, ok := dev.(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("shared device is %T, not hal.Device: %w", dev, ErrNoAdapter)
	}
	q, ok := queue.(hal.Queue)
	if !ok || q == nil {
		return nil, nil, fmt.Errorf("shared queue is %T, not hal.Queue: %w", queue, ErrNoAdapter)
	}
	return device, q, nil
}

// openStandalone creates an instance and opens the preferred adapter.
// release destroys the device and the instance.
func openStandalone() (hal.OpenDevice, plot.Capability, func(hal.Device), error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return hal.OpenDevice{}, plot.CPUOnly(), nil, fmt.Errorf("vulkan backend not available: %w", ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return hal.OpenDevice{}, plot.CPUOnly(), nil, fmt.Errorf("create instance: %w: %w", ErrNoAdapter, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return hal.OpenDevice{}, plot.CPUOnly(), nil, ErrNoAdapter
	}
	selected := pickAdapter(adapters)
	od, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return hal.OpenDevice{}, plot.CPUOnly(), nil, halError("open device", err)
	}
	release := func(dev hal.Device) {
		_ = dev.WaitIdle()
		dev.Destroy()
		instance.Destroy()
	}
	return od, adapterCapability(selected), release, nil
}

// pickAdapter prefers a discrete GPU, then an integrated one, then the
// first adapter listed.
func pickAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

func adapterCapability(a *hal.ExposedAdapter) plot.Capability {
	limits := a.Capabilities.Limits
	return plot.Capability{
		HasDiscreteGPU:  a.Info.DeviceType == gputypes.DeviceTypeDiscreteGPU,
		SupportsCompute: a.Info.DeviceType != gputypes.DeviceTypeCPU,
		MaxBufferSize:   limits.MaxBufferSize,
		MaxTextureSize:  limits.MaxTextureDimension2D,
		AdapterName:     a.Info.Name,
	}
}
