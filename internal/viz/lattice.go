package viz

import "strings"

// shades orders block characters from resting to fully excited.
var shades = []rune{' ', '·', '░', '▒', '▓', '█'}

// TraceStrand draws the first state component of a 1-D strand onto the
// canvas as a connected line, cells left to right.
func TraceStrand(c *Canvas, state []float64, nx, nstate int, lo, hi float64) {
	c.Clear()
	if nx < 1 || hi <= lo {
		return
	}
	w, h := c.DotWidth(), c.DotHeight()
	prevX, prevY := 0, 0
	for i := 0; i < nx; i++ {
		v := state[i*nstate]
		x := 0
		if nx > 1 {
			x = i * (w - 1) / (nx - 1)
		}
		y := int((1 - clamp01((v-lo)/(hi-lo))) * float64(h-1))
		if i > 0 {
			c.Line(prevX, prevY, x, y)
		} else {
			c.Set(x, y)
		}
		prevX, prevY = x, y
	}
}

// ShadeSheet renders a 2-D lattice as one shaded character per cell, rows
// top to bottom. Lattices wider than maxW are subsampled.
func ShadeSheet(state []float64, nx, ny, nstate int, lo, hi float64, maxW int) string {
	if nx < 1 || ny < 1 || hi <= lo {
		return ""
	}
	stride := 1
	for nx/stride > maxW {
		stride++
	}
	var b strings.Builder
	for y := 0; y < ny; y += stride {
		for x := 0; x < nx; x += stride {
			v := state[(y*nx+x)*nstate]
			i := int(clamp01((v-lo)/(hi-lo)) * float64(len(shades)-1))
			b.WriteRune(shades[i])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
