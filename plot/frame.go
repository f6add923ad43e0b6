package plot

// Point is one sampled point. Index is the row in the source series.
type Point struct {
	X, Y  float64
	Value float64
	Index int
}

// Bin is one aggregation cell.
type Bin struct {
	Count uint32
	Sum   float64
}

// Mean returns Sum/Count, or zero for an empty bin.
func (b Bin) Mean() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.Sum / float64(b.Count)
}

// Frame is the immutable result of sampling or aggregating one series
// version for one viewport and mode. A frame is replaced, never modified,
// when its inputs change; code holding a Frame must not write to its
// slices.
//
// Point frames (Direct, Instanced) fill Points. Aggregated frames fill
// Bins in row-major order with row 0 at the lowest y, and
// BinsX*BinsY == len(Bins) always holds.
type Frame struct {
	Mode     RenderMode
	Viewport Viewport
	SeriesID string
	Version  uint64

	// SourceRows is the number of finite points inside the viewport
	// before any reduction.
	SourceRows int

	Points []Point

	Bins         []Bin
	BinsX, BinsY uint32
}

// Empty reports whether the frame has nothing to draw.
func (f Frame) Empty() bool {
	if f.Mode == Aggregated {
		return f.TotalCount() == 0
	}
	return len(f.Points) == 0
}

// Len returns the number of points or bins.
func (f Frame) Len() int {
	if f.Mode == Aggregated {
		return len(f.Bins)
	}
	return len(f.Points)
}

// TotalCount returns the number of source points the frame represents:
// the point count, or the sum of bin counts.
func (f Frame) TotalCount() int {
	if f.Mode != Aggregated {
		return len(f.Points)
	}
	n := 0
	for _, b := range f.Bins {
		n += int(b.Count)
	}
	return n
}

// SizeBytes estimates the host memory held by the frame.
func (f Frame) SizeBytes() int {
	const pointSize, binSize = 32, 16
	return 128 + len(f.Points)*pointSize + len(f.Bins)*binSize
}

// BinAt returns the bin at column ix, row iy.
func (f Frame) BinAt(ix, iy uint32) Bin {
	return f.Bins[int(iy)*int(f.BinsX)+int(ix)]
}
