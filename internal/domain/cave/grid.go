package cave

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned for any access outside the grid.
	ErrOutOfBounds = errors.New("cave: coordinate out of bounds")
	// ErrCellFixed is returned when overwriting a Rock or SettledSand cell with a different kind.
	ErrCellFixed = errors.New("cave: cell is already fixed")
)

// Grid is a bounded occupancy map stored row-major in a flat slice.
type Grid struct {
	width  int
	height int
	cells  []Cell
}

// NewGrid allocates an empty grid. Both dimensions must be positive.
func NewGrid(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("cave: invalid grid size %dx%d", width, height)
	}
	return &Grid{
		width:  width,
		height: height,
		cells:  make([]Cell, width*height),
	}, nil
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// InBounds reports whether p addresses a cell of the grid.
func (g *Grid) InBounds(p Point) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

func (g *Grid) index(p Point) int { return p.Y*g.width + p.X }

// Get returns the cell at p.
func (g *Grid) Get(p Point) (Cell, error) {
	if !g.InBounds(p) {
		return Empty, fmt.Errorf("get (%d,%d) in %dx%d: %w", p.X, p.Y, g.width, g.height, ErrOutOfBounds)
	}
	return g.cells[g.index(p)], nil
}

// Set writes c at p. Rock and SettledSand cells are write-once; repeating the
// same kind is accepted so that overlapping rock segments stay harmless.
func (g *Grid) Set(p Point, c Cell) error {
	if !g.InBounds(p) {
		return fmt.Errorf("set (%d,%d) in %dx%d: %w", p.X, p.Y, g.width, g.height, ErrOutOfBounds)
	}
	i := g.index(p)
	if cur := g.cells[i]; cur.Fixed() && cur != c {
		return fmt.Errorf("set (%d,%d) to %s over %s: %w", p.X, p.Y, c, cur, ErrCellFixed)
	}
	g.cells[i] = c
	return nil
}

// Open reports whether a grain may enter p. Out-of-range probes are errors,
// never silently treated as walls or air.
func (g *Grid) Open(p Point) (bool, error) {
	c, err := g.Get(p)
	if err != nil {
		return false, err
	}
	return c.Open(), nil
}

// Row returns a copy of row y.
func (g *Grid) Row(y int) ([]Cell, error) {
	if y < 0 || y >= g.height {
		return nil, fmt.Errorf("row %d of %d: %w", y, g.height, ErrOutOfBounds)
	}
	row := make([]Cell, g.width)
	copy(row, g.cells[y*g.width:(y+1)*g.width])
	return row, nil
}

// Count returns how many cells hold c.
func (g *Grid) Count(c Cell) int {
	n := 0
	for _, v := range g.cells {
		if v == c {
			n++
		}
	}
	return n
}

// LowestRow returns the highest row index holding c, or -1.
func (g *Grid) LowestRow(c Cell) int {
	for y := g.height - 1; y >= 0; y-- {
		for x := 0; x < g.width; x++ {
			if g.cells[y*g.width+x] == c {
				return y
			}
		}
	}
	return -1
}

// Find returns the first cell (row-major) holding c.
func (g *Grid) Find(c Cell) (Point, bool) {
	for i, v := range g.cells {
		if v == c {
			return Point{X: i % g.width, Y: i / g.width}, true
		}
	}
	return Point{}, false
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	cells := make([]Cell, len(g.cells))
	copy(cells, g.cells)
	return &Grid{width: g.width, height: g.height, cells: cells}
}

// Cells returns a copy of the backing store in row-major order.
func (g *Grid) Cells() []Cell {
	out := make([]Cell, len(g.cells))
	copy(out, g.cells)
	return out
}
