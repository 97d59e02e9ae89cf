package viz

import "strings"

// Braille cells pack 2x4 dots per terminal character, offset from U+2800.
// dotBits[row][col] is the bit for the dot at that sub-cell position.
var dotBits = [4][2]rune{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// Canvas is a Braille dot matrix: w*2 dots across, h*4 dots down.
type Canvas struct {
	w, h  int
	cells []rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{w: w, h: h, cells: make([]rune, w*h)}
	c.Clear()
	return c
}

// DotWidth and DotHeight report the canvas size in dot coordinates.
func (c *Canvas) DotWidth() int  { return c.w * 2 }
func (c *Canvas) DotHeight() int { return c.h * 4 }

func (c *Canvas) Clear() {
	for i := range c.cells {
		c.cells[i] = 0x2800
	}
}

// Set lights the dot at (x, y) in dot coordinates. Out-of-range dots are
// dropped.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 || x >= c.w*2 || y >= c.h*4 {
		return
	}
	c.cells[(y/4)*c.w+x/2] |= dotBits[y%4][x%2]
}

// Line draws from (x0, y0) to (x1, y1) with Bresenham stepping.
func (c *Canvas) Line(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for row := 0; row < c.h; row++ {
		b.WriteString(string(c.cells[row*c.w : (row+1)*c.w]))
		b.WriteByte('\n')
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
