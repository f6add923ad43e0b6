package plotlod

import (
	"errors"

	"github.com/gogpu/plotlod/plot"
)

// Error kinds, shared with the plot package so errors.Is works on errors
// from any layer.
var (
	ErrConfiguration   = plot.ErrConfiguration
	ErrDeviceLost      = plot.ErrDeviceLost
	ErrOutOfMemory     = plot.ErrOutOfMemory
	ErrDataUnavailable = plot.ErrDataUnavailable
)

// ErrClosed is returned by a Renderer or Plot after Close.
var ErrClosed = errors.New("plotlod: closed")
