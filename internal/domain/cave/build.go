package cave

import (
	"errors"
	"fmt"
	"io"
)

// ErrSourceInRock is returned when the source coordinate lands on rock.
var ErrSourceInRock = errors.New("cave: source lies inside rock")

// BuildOptions controls grid construction. Source and every parsed vertex are
// translated by Offset before being written.
type BuildOptions struct {
	Width  int
	Height int
	Source Point
	Offset Point
}

// Cave is a built grid together with the grid-space source coordinate.
type Cave struct {
	Grid   *Grid
	Source Point
}

// Build paints every segment of every path as Rock (endpoints inclusive) and
// marks the source. Nothing is returned on error.
func Build(paths []Path, opts BuildOptions) (*Cave, error) {
	g, err := NewGrid(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	for i, path := range paths {
		for _, seg := range path.Segments() {
			a, b := seg[0].Add(opts.Offset), seg[1].Add(opts.Offset)
			if err := paintSegment(g, a, b); err != nil {
				return nil, fmt.Errorf("cave: path %d: %w", i+1, err)
			}
		}
	}

	src := opts.Source.Add(opts.Offset)
	cur, err := g.Get(src)
	if err != nil {
		return nil, fmt.Errorf("cave: source: %w", err)
	}
	if cur == Rock {
		return nil, fmt.Errorf("cave: source (%d,%d): %w", src.X, src.Y, ErrSourceInRock)
	}
	if err := g.Set(src, SourceMarker); err != nil {
		return nil, err
	}

	return &Cave{Grid: g, Source: src}, nil
}

// Load parses rock paths from r, builds the cave and, when floor is set,
// synthesizes the floor.
func Load(r io.Reader, opts BuildOptions, floor bool) (*Cave, error) {
	paths, err := ParsePaths(r)
	if err != nil {
		return nil, err
	}
	c, err := Build(paths, opts)
	if err != nil {
		return nil, err
	}
	if floor {
		return SynthesizeFloor(c)
	}
	return c, nil
}

func paintSegment(g *Grid, a, b Point) error {
	switch {
	case a.Y == b.Y:
		for x := min(a.X, b.X); x <= max(a.X, b.X); x++ {
			if err := g.Set(Point{X: x, Y: a.Y}, Rock); err != nil {
				return err
			}
		}
	case a.X == b.X:
		for y := min(a.Y, b.Y); y <= max(a.Y, b.Y); y++ {
			if err := g.Set(Point{X: a.X, Y: y}, Rock); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("(%d,%d) -> (%d,%d): %w", a.X, a.Y, b.X, b.Y, ErrDiagonalSegment)
	}
	return nil
}
