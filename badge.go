package plotlod

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/plotlod/plot"
)

var (
	printerMu sync.Mutex
	printer   = message.NewPrinter(language.English)
)

// Badge returns the mode badge shown on a plot, e.g.
// "Direct (12,345 points)" or "Aggregated (50M points)".
func Badge(mode plot.RenderMode, rows int) string {
	return fmt.Sprintf("%s (%s points)", mode, FormatCount(rows))
}

// FormatCount formats a row count for display. Counts below one million
// are grouped by thousands; larger counts are abbreviated to one decimal
// with an M or B suffix, dropping a trailing ".0". A count that rounds up
// to 1000M is shown as 1B.
func FormatCount(n int) string {
	if n < 0 {
		// -(n+1) cannot overflow, even for math.MinInt.
		return "-" + formatMagnitude(uint64(-(n+1))+1)
	}
	return formatMagnitude(uint64(n))
}

func formatMagnitude(u uint64) string {
	if u < 1_000_000 {
		printerMu.Lock()
		defer printerMu.Unlock()
		return printer.Sprintf("%d", u)
	}
	if m := math.Round(float64(u)/1e5) / 10; m < 1000 {
		return abbreviate(m, "M")
	}
	return abbreviate(float64(u)/1e9, "B")
}

func abbreviate(v float64, suffix string) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0") + suffix
}
