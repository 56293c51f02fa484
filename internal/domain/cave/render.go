package cave

import (
	"fmt"
	"strings"
)

// FallingGlyph marks an in-flight grain in rendered output.
const FallingGlyph = '~'

// Render draws the whole grid as ASCII, one line per row, overlaying falling grains.
func Render(g *Grid, falling []Point) string {
	return renderRect(g, falling, 0, 0, g.Width()-1, g.Height()-1)
}

// RenderCropped draws only the bounding box of non-empty cells and falling
// grains, widened by margin columns on each side.
func RenderCropped(g *Grid, falling []Point, margin int) string {
	minX, minY, maxX, maxY := g.Width(), g.Height(), -1, -1
	grow := func(x, y int) {
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	for i, c := range g.cells {
		if c != Empty {
			grow(i%g.width, i/g.width)
		}
	}
	for _, p := range falling {
		if g.InBounds(p) {
			grow(p.X, p.Y)
		}
	}
	if maxX < 0 {
		return ""
	}
	minX, maxX = max(0, minX-margin), min(g.Width()-1, maxX+margin)
	return renderRect(g, falling, minX, minY, maxX, maxY)
}

func renderRect(g *Grid, falling []Point, x0, y0, x1, y1 int) string {
	overlay := make(map[Point]struct{}, len(falling))
	for _, p := range falling {
		overlay[p] = struct{}{}
	}

	var b strings.Builder
	b.Grow((x1 - x0 + 2) * (y1 - y0 + 1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			p := Point{X: x, Y: y}
			if _, ok := overlay[p]; ok {
				b.WriteByte(FallingGlyph)
				continue
			}
			b.WriteByte(g.cells[g.index(p)].Glyph())
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FromRows rebuilds a grid from rendered rows. Falling-grain glyphs are read as Empty.
func FromRows(rows []string) (*Grid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cave: no rows")
	}
	g, err := NewGrid(len(rows[0]), len(rows))
	if err != nil {
		return nil, err
	}
	for y, row := range rows {
		if len(row) != g.width {
			return nil, fmt.Errorf("cave: row %d has width %d, want %d", y, len(row), g.width)
		}
		for x := 0; x < len(row); x++ {
			c, ok := cellForGlyph(row[x])
			if !ok {
				return nil, fmt.Errorf("cave: row %d col %d: unknown glyph %q", y, x, row[x])
			}
			g.cells[y*g.width+x] = c
		}
	}
	return g, nil
}

func cellForGlyph(b byte) (Cell, bool) {
	switch b {
	case '.', FallingGlyph:
		return Empty, true
	case '#':
		return Rock, true
	case '+':
		return SourceMarker, true
	case 'o':
		return SettledSand, true
	}
	return Empty, false
}

// Lines splits rendered output into rows without the trailing newline.
func Lines(rendered string) []string {
	return strings.Split(strings.TrimSuffix(rendered, "\n"), "\n")
}
