package plot

import "fmt"

// Capability describes what the active GPU can do. It is detected once
// at startup and again after a device loss; the pipeline treats it as
// read-only in between.
type Capability struct {
	HasDiscreteGPU  bool
	SupportsCompute bool
	MaxBufferSize   uint64

	// MaxTextureSize bounds the aggregation grid per axis. Zero means
	// no device limit beyond the configured grid cap.
	MaxTextureSize uint32

	AdapterName string
}

// CPUOnly returns the capability of a machine without a usable GPU.
func CPUOnly() Capability {
	return Capability{AdapterName: "cpu"}
}

// HasGPU reports whether any GPU path is available.
func (c Capability) HasGPU() bool {
	return c.HasDiscreteGPU || c.SupportsCompute || c.MaxBufferSize > 0
}

func (c Capability) String() string {
	return fmt.Sprintf("%s (discrete=%t, compute=%t, maxBuffer=%d, maxTexture=%d)",
		c.AdapterName, c.HasDiscreteGPU, c.SupportsCompute, c.MaxBufferSize, c.MaxTextureSize)
}
