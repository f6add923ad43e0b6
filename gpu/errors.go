package gpu

import "errors"

// Manager errors. Resource failures wrap the sentinels in plot instead.
var (
	// ErrInvalidHandle is returned for a zero, released, or pre-loss handle.
	ErrInvalidHandle = errors.New("gpu: invalid buffer handle")

	// ErrHandleEvicted is returned when drawing a handle whose buffer was
	// reclaimed under memory pressure. Upload the frame again.
	ErrHandleEvicted = errors.New("gpu: buffer evicted")

	// ErrModeMismatch is returned when a handle is drawn in a mode other
	// than the one it was uploaded for.
	ErrModeMismatch = errors.New("gpu: handle drawn in the wrong mode")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("gpu: manager closed")

	// ErrNoAdapter is returned when no usable GPU adapter exists.
	ErrNoAdapter = errors.New("gpu: no usable adapter")
)
