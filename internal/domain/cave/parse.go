package cave

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrDiagonalSegment is returned for a segment that is neither horizontal nor vertical.
var ErrDiagonalSegment = errors.New("cave: segment is not axis-aligned")

// Path is one rock polyline in input coordinates.
type Path []Point

// ParseError reports a malformed input line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cave: line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParsePaths reads one polyline per line in the form "x1,y1 -> x2,y2 -> ...".
// Blank lines are skipped. The whole input is rejected on the first bad line.
func ParsePaths(r io.Reader) ([]Path, error) {
	var paths []Path
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		path, err := parseLine(text)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: text, Err: err}
		}
		paths = append(paths, path)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cave: read input: %w", err)
	}
	return paths, nil
}

// ParsePathsString is ParsePaths over a string.
func ParsePathsString(s string) ([]Path, error) {
	return ParsePaths(strings.NewReader(s))
}

func parseLine(text string) (Path, error) {
	fields := strings.Split(text, "->")
	path := make(Path, 0, len(fields))
	for _, f := range fields {
		p, err := parseVertex(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		if n := len(path); n > 0 {
			prev := path[n-1]
			if prev.X != p.X && prev.Y != p.Y {
				return nil, fmt.Errorf("(%d,%d) -> (%d,%d): %w", prev.X, prev.Y, p.X, p.Y, ErrDiagonalSegment)
			}
		}
		path = append(path, p)
	}
	return path, nil
}

func parseVertex(s string) (Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("vertex %q: expected x,y", s)
	}
	x, err := parseCoord(xs)
	if err != nil {
		return Point{}, fmt.Errorf("vertex %q: x: %w", s, err)
	}
	y, err := parseCoord(ys)
	if err != nil {
		return Point{}, fmt.Errorf("vertex %q: y: %w", s, err)
	}
	return Point{X: x, Y: y}, nil
}

func parseCoord(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative coordinate %d", v)
	}
	return v, nil
}

// Segments returns the consecutive vertex pairs of the path. A single-vertex
// path yields one degenerate segment covering that vertex.
func (p Path) Segments() [][2]Point {
	switch len(p) {
	case 0:
		return nil
	case 1:
		return [][2]Point{{p[0], p[0]}}
	}
	segs := make([][2]Point, 0, len(p)-1)
	for i := 1; i < len(p); i++ {
		segs = append(segs, [2]Point{p[i-1], p[i]})
	}
	return segs
}
