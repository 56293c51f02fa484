// Package cave defines the cave grid: the static occupancy map grains fall through.
// This package is PURE and must NOT import any infrastructure packages.
package cave

// Cell is the content of one grid square.
type Cell uint8

const (
	Empty        Cell = iota
	Rock              // Written once while building
	SourceMarker      // Informational only, grains pass through it
	SettledSand       // Written once when a grain comes to rest
)

// Glyph returns the ASCII character used when rendering the cell.
func (c Cell) Glyph() byte {
	switch c {
	case Rock:
		return '#'
	case SourceMarker:
		return '+'
	case SettledSand:
		return 'o'
	default:
		return '.'
	}
}

func (c Cell) String() string {
	switch c {
	case Empty:
		return "EMPTY"
	case Rock:
		return "ROCK"
	case SourceMarker:
		return "SOURCE"
	case SettledSand:
		return "SAND"
	}
	return "UNKNOWN"
}

// Open reports whether a grain may move into the cell.
func (c Cell) Open() bool {
	return c == Empty || c == SourceMarker
}

// Fixed reports whether the cell can never change again.
func (c Cell) Fixed() bool {
	return c == Rock || c == SettledSand
}

// Point is a grid coordinate. X is the column, Y the row (growing downwards).
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns p translated by d.
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

// Below returns the neighbor one row down.
func (p Point) Below() Point { return Point{X: p.X, Y: p.Y + 1} }

// BelowLeft returns the diagonal neighbor one row down and one column left.
func (p Point) BelowLeft() Point { return Point{X: p.X - 1, Y: p.Y + 1} }

// BelowRight returns the diagonal neighbor one row down and one column right.
func (p Point) BelowRight() Point { return Point{X: p.X + 1, Y: p.Y + 1} }
