package sample

import (
	"github.com/gogpu/plotlod/lod"
	"github.com/gogpu/plotlod/plot"
)

// ForDecision runs the reducer that matches d.Mode: Direct for Direct,
// LTTB with d.Target for Instanced, and AggregateBins with the decided
// grid for Aggregated.
func ForDecision(s plot.Series, vp plot.Viewport, d lod.Decision) plot.Frame {
	switch d.Mode {
	case plot.Instanced:
		return LTTB(s, vp, d.Target)
	case plot.Aggregated:
		return AggregateBins(s, vp, d.BinsX, d.BinsY)
	default:
		return Direct(s, vp)
	}
}

// Offloadable reports whether the reducer for mode is heavy enough to
// run off the render goroutine. Only LTTB and binning qualify.
func Offloadable(mode plot.RenderMode) bool {
	return mode == plot.Instanced || mode == plot.Aggregated
}
