// Package plot defines the data model shared by every stage of the
// multi-resolution rendering pipeline: the viewport a frame is drawn for,
// the versioned series it is drawn from, the render mode, the GPU
// capability descriptor, and the immutable sampled frame handed between
// the sampler, the GPU resource manager and the CPU renderer.
//
// Everything in this package is a plain value. Nothing here allocates
// device resources or performs I/O.
package plot
