package plot

import (
	"fmt"
	"strings"
)

// RenderMode selects how a frame is drawn.
type RenderMode int

const (
	// Direct draws every visible point as-is.
	Direct RenderMode = iota

	// Instanced draws an LTTB-reduced point set with one GPU instance per point.
	Instanced

	// Aggregated draws a 2D bin grid mapped through a colormap.
	Aggregated
)

// String returns the mode name as shown in the render badge.
func (m RenderMode) String() string {
	switch m {
	case Direct:
		return "Direct"
	case Instanced:
		return "Instanced"
	case Aggregated:
		return "Aggregated"
	default:
		return fmt.Sprintf("RenderMode(%d)", int(m))
	}
}

// Valid reports whether m is one of the defined modes.
func (m RenderMode) Valid() bool {
	return m >= Direct && m <= Aggregated
}

// ParseRenderMode parses a mode name, case-insensitively.
func ParseRenderMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return Direct, nil
	case "instanced":
		return Instanced, nil
	case "aggregated":
		return Aggregated, nil
	}
	return Direct, fmt.Errorf("unknown render mode %q: %w", s, ErrConfiguration)
}
