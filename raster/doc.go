// Package raster is the CPU renderer used when no GPU is available or a
// GPU draw fails.
//
// Points are splatted with bilinear weights over the four pixels around
// their center, which is what the GPU point shader computes per fragment.
// Aggregated frames go through the shared colormap and a nearest-bin
// lookup, producing the same bytes as the GPU colormap and blit shaders.
//
// Rendering splits the target into row bands that run on a
// parallel.WorkerPool when one is supplied.
package raster
