package viz

import (
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/cardiosim/internal/engine"
)

// Plot renders one series as an ASCII strip chart.
func Plot(series []float64, caption string) string {
	if len(series) < 2 {
		return ""
	}
	return asciigraph.Plot(series,
		asciigraph.Height(10), asciigraph.Width(70), asciigraph.Caption(caption))
}

// PlotLog renders a named series from a finished run's log.
func PlotLog(log *engine.Log, name string) string {
	return Plot(log.Series(name), name)
}
