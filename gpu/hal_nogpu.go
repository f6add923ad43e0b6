//go:build nogpu

package gpu

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/plotlod/plot"
)

// DeviceHandle provides GPU device access from a host application.
type DeviceHandle = gpucontext.DeviceProvider

// Open always fails in nogpu builds.
func Open() (*HALDevice, error) { return nil, ErrNoAdapter }

// Detect always reports a CPU-only machine in nogpu builds.
func Detect() plot.Capability { return plot.CPUOnly() }

// OpenShared always fails in nogpu builds.
func OpenShared(DeviceHandle) (*HALDevice, error) { return nil, ErrNoAdapter }
