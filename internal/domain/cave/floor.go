package cave

import (
	"errors"
	"fmt"
)

// ErrNoRock is returned when a floor is requested for a cave without any rock.
var ErrNoRock = errors.New("cave: no rock to derive a floor from")

// SynthesizeFloor derives a cave with a solid floor two rows below the lowest
// rock. Rows past lowest+1 are dropped, the grid is widened evenly on both
// sides until it is at least twice as wide as it is tall, and a full row of
// rock is appended. The returned source is shifted by the left padding.
func SynthesizeFloor(c *Cave) (*Cave, error) {
	lowest := c.Grid.LowestRow(Rock)
	if lowest < 0 {
		return nil, ErrNoRock
	}

	rows := lowest + 2
	width := c.Grid.Width()
	pad := 0
	if width < 2*rows {
		pad = (2*rows - width + 2) / 2
	}

	g, err := NewGrid(width+2*pad, rows+1)
	if err != nil {
		return nil, err
	}

	for y := 0; y < rows && y < c.Grid.Height(); y++ {
		row, err := c.Grid.Row(y)
		if err != nil {
			return nil, err
		}
		for x, cell := range row {
			if cell == Empty {
				continue
			}
			if err := g.Set(Point{X: x + pad, Y: y}, cell); err != nil {
				return nil, err
			}
		}
	}

	for x := 0; x < g.Width(); x++ {
		if err := g.Set(Point{X: x, Y: rows}, Rock); err != nil {
			return nil, err
		}
	}

	src := c.Source.Add(Point{X: pad})
	if !g.InBounds(src) || src.Y >= rows {
		return nil, fmt.Errorf("cave: source (%d,%d) not above floor row %d: %w", src.X, src.Y, rows, ErrOutOfBounds)
	}

	return &Cave{Grid: g, Source: src}, nil
}
