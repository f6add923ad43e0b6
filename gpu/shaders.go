package gpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
)

//go:embed shaders/points.wgsl
var pointsShaderSource string

//go:embed shaders/colormap.wgsl
var colormapShaderSource string

//go:embed shaders/grid.wgsl
var gridShaderSource string

// spirvCache holds compiled shaders by source. Compilation is pure, so
// every device shares the result.
var spirvCache sync.Map // string -> []uint32

// compileSPIRV compiles WGSL to SPIR-V words.
func compileSPIRV(label, source string) ([]uint32, error) {
	if v, ok := spirvCache.Load(source); ok {
		return v.([]uint32), nil //nolint:forcetypeassert // cache holds only []uint32
	}
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile %s shader: %w", label, err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("compile %s shader: SPIR-V length %d is not word aligned", label, len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	spirvCache.Store(source, words)
	return words, nil
}
