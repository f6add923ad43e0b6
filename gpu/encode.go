package gpu

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// Alignment is the granularity every buffer size is rounded up to. It
// matches the 256-byte copy row pitch required by WebGPU, so any pooled
// buffer can also serve as a readback staging buffer.
const Alignment = 256

// Byte strides of the point buffer layouts.
const (
	directVertexStride = 16 // center.xy, corner.xy as float32
	directVertices     = 6
	instanceStride     = 8 // center.xy as float32
)

// quadCorners are the two triangles of a point quad, in pixels from the
// point center. The quad spans the 2x2 pixel footprint of the bilinear
// splat.
var quadCorners = [directVertices][2]float32{
	{-1, -1}, {1, -1}, {-1, 1},
	{-1, 1}, {1, -1}, {1, 1},
}

func alignUp(n uint64) uint64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// sizeClass returns the pool bucket for n bytes: the next power of two,
// never below Alignment.
func sizeClass(n uint64) uint64 {
	if n <= Alignment {
		return Alignment
	}
	return 1 << bits.Len64(n-1)
}

// encodePoints packs interleaved pixel centers for a point draw.
func encodePoints(xy []float32, instanced bool) []byte {
	n := len(xy) / 2
	if instanced {
		out := make([]byte, n*instanceStride)
		for i := range n {
			putFloat(out[i*instanceStride:], xy[2*i])
			putFloat(out[i*instanceStride+4:], xy[2*i+1])
		}
		return out
	}

	const pointBytes = directVertexStride * directVertices
	out := make([]byte, n*pointBytes)
	for i := range n {
		for v, c := range quadCorners {
			o := i*pointBytes + v*directVertexStride
			putFloat(out[o:], xy[2*i])
			putFloat(out[o+4:], xy[2*i+1])
			putFloat(out[o+8:], c[0])
			putFloat(out[o+12:], c[1])
		}
	}
	return out
}

// decodeCenters is the inverse of encodePoints for the first count points.
func decodeCenters(data []byte, count int, instanced bool) []float32 {
	stride := directVertexStride * directVertices
	if instanced {
		stride = instanceStride
	}
	count = min(count, len(data)/stride)
	xy := make([]float32, 2*count)
	for i := range count {
		xy[2*i] = getFloat(data[i*stride:])
		xy[2*i+1] = getFloat(data[i*stride+4:])
	}
	return xy
}

func encodeWords(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func decodeWords(data []byte, n int) []uint32 {
	n = min(n, len(data)/4)
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return out
}

func putFloat(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
