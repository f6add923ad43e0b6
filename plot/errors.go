package plot

import "errors"

// Error taxonomy of the rendering pipeline. Callers match with errors.Is;
// producers wrap with fmt.Errorf("...: %w", err) to add context.
var (
	// ErrConfiguration reports an invalid viewport or threshold
	// configuration. It is fatal to the current frame only.
	ErrConfiguration = errors.New("plot: invalid configuration")

	// ErrDeviceLost reports a recoverable GPU device loss. The GPU
	// resource manager resets its pools and capability is re-detected.
	ErrDeviceLost = errors.New("plot: GPU device lost")

	// ErrOutOfMemory reports that a GPU or host allocation failed even
	// after eviction. The frame falls back to the CPU renderer.
	ErrOutOfMemory = errors.New("plot: out of memory")

	// ErrDataUnavailable reports an empty or not yet populated series.
	// It renders as an empty frame.
	ErrDataUnavailable = errors.New("plot: data unavailable")
)
