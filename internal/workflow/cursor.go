package workflow

import (
	"context"
	"math"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/selector"
)

// cursorKey names the click argument holding the caret position.
const cursorKey = "cursorIndex"

// cursorIndex places the caret of a text field where the user clicked.
// It falls back to the end of the value when measuring fails.
func (g *Generator) cursorIndex(ctx context.Context, page Page, sel string, info selector.ElementInfo, x float64) int {
	end := utf8.RuneCountInString(info.Value)
	widths, left, err := page.PrefixWidths(ctx, sel)
	if err != nil || len(widths) == 0 {
		if err != nil {
			g.logger.Debug("measuring field text failed", zap.String("selector", sel), zap.Error(err))
		}
		return end
	}
	return nearestPrefix(widths, x-left)
}

// nearestPrefix returns the prefix length whose rendered width is closest
// to offset. widths[i] is the width of the first i runes and grows with i,
// so the scan stops once the distance starts to grow.
func nearestPrefix(widths []float64, offset float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, w := range widths {
		d := math.Abs(w - offset)
		if d > bestDist {
			break
		}
		best, bestDist = i, d
	}
	return best
}
