package cave

import (
	"errors"
	"strings"
	"testing"
)

const referenceInput = `498,4 -> 498,6 -> 496,6
503,4 -> 502,4 -> 502,9 -> 494,9
`

func referenceOptions() BuildOptions {
	return BuildOptions{
		Width:  200,
		Height: 200,
		Source: Point{X: 500, Y: 0},
		Offset: Point{X: -400, Y: 0},
	}
}

func buildReference(t *testing.T) *Cave {
	t.Helper()
	paths, err := ParsePathsString(referenceInput)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c, err := Build(paths, referenceOptions())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return c
}

func TestParsePaths(t *testing.T) {
	paths, err := ParsePathsString(referenceInput + "\n\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("Expected 2 paths, got %d", len(paths))
	}
	want := Path{{498, 4}, {498, 6}, {496, 6}}
	for i, p := range want {
		if paths[0][i] != p {
			t.Errorf("vertex %d: expected %v, got %v", i, p, paths[0][i])
		}
	}
	if got := len(paths[1].Segments()); got != 3 {
		t.Errorf("Expected 3 segments on second path, got %d", got)
	}
}

func TestParsePathsErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		line     int
		diagonal bool
	}{
		{"non numeric", "498,x -> 498,6", 1, false},
		{"missing comma", "498 4 -> 498,6", 1, false},
		{"dangling arrow", "498,4 ->", 1, false},
		{"negative", "498,4\n-1,4 -> 3,4", 2, false},
		{"diagonal", "1,1 -> 1,5\n1,5 -> 3,7", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := ParsePathsString(tt.input)
			if err == nil {
				t.Fatalf("Expected error, got paths %v", paths)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *ParseError, got %T", err)
			}
			if pe.Line != tt.line {
				t.Errorf("Expected line %d, got %d", tt.line, pe.Line)
			}
			if got := errors.Is(err, ErrDiagonalSegment); got != tt.diagonal {
				t.Errorf("errors.Is(ErrDiagonalSegment) = %v, want %v", got, tt.diagonal)
			}
			if paths != nil {
				t.Errorf("Expected no partial result")
			}
		})
	}
}

func TestBuildPaintsExactlyTheSegments(t *testing.T) {
	c := buildReference(t)

	want := map[Point]bool{}
	add := func(x0, y0, x1, y1 int) {
		for x := min(x0, x1); x <= max(x0, x1); x++ {
			for y := min(y0, y1); y <= max(y0, y1); y++ {
				want[Point{X: x - 400, Y: y}] = true
			}
		}
	}
	add(498, 4, 498, 6)
	add(498, 6, 496, 6)
	add(503, 4, 502, 4)
	add(502, 4, 502, 9)
	add(502, 9, 494, 9)

	for y := 0; y < c.Grid.Height(); y++ {
		for x := 0; x < c.Grid.Width(); x++ {
			p := Point{X: x, Y: y}
			cell, _ := c.Grid.Get(p)
			if (cell == Rock) != want[p] {
				t.Fatalf("cell %v: rock=%v, want %v", p, cell == Rock, want[p])
			}
		}
	}
	if got := c.Grid.Count(Rock); got != len(want) {
		t.Errorf("Expected %d rock cells, got %d", len(want), got)
	}
	if c.Source != (Point{X: 100, Y: 0}) {
		t.Errorf("Expected translated source (100,0), got %v", c.Source)
	}
	if cell, _ := c.Grid.Get(c.Source); cell != SourceMarker {
		t.Errorf("Expected source marker at %v, got %s", c.Source, cell)
	}
}

func TestBuildSingleVertexPaintsPoint(t *testing.T) {
	paths, err := ParsePathsString("3,4")
	if err != nil {
		t.Fatal(err)
	}
	c, err := Build(paths, BuildOptions{Width: 10, Height: 10, Source: Point{X: 3, Y: 0}})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Grid.Count(Rock); got != 1 {
		t.Errorf("Expected 1 rock cell, got %d", got)
	}
}

func TestBuildRejectsInvalidGeometry(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  BuildOptions
		want  error
	}{
		{"rock outside", "5,1 -> 12,1", BuildOptions{Width: 10, Height: 10}, ErrOutOfBounds},
		{"offset pushes left", "1,1 -> 3,1", BuildOptions{Width: 10, Height: 10, Offset: Point{X: -2}}, ErrOutOfBounds},
		{"source outside", "1,1 -> 3,1", BuildOptions{Width: 10, Height: 10, Source: Point{X: 20}}, ErrOutOfBounds},
		{"source in rock", "1,0 -> 3,0", BuildOptions{Width: 10, Height: 10, Source: Point{X: 2}}, ErrSourceInRock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := ParsePathsString(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			c, err := Build(paths, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if c != nil {
				t.Errorf("Expected no cave on error")
			}
		})
	}
}

func TestGridWriteOnce(t *testing.T) {
	g, err := NewGrid(3, 3)
	if err != nil {
		t.Fatal(err)
	}
	p := Point{X: 1, Y: 1}

	if err := g.Set(p, Rock); err != nil {
		t.Fatal(err)
	}
	if err := g.Set(p, Rock); err != nil {
		t.Errorf("Rock over rock should be accepted, got %v", err)
	}
	if err := g.Set(p, SettledSand); !errors.Is(err, ErrCellFixed) {
		t.Errorf("Expected ErrCellFixed, got %v", err)
	}
	if err := g.Set(p, Empty); !errors.Is(err, ErrCellFixed) {
		t.Errorf("Expected ErrCellFixed, got %v", err)
	}

	q := Point{X: 0, Y: 0}
	if err := g.Set(q, SourceMarker); err != nil {
		t.Fatal(err)
	}
	if open, _ := g.Open(q); !open {
		t.Errorf("Source marker must not be an obstacle")
	}
	if err := g.Set(q, SettledSand); err != nil {
		t.Errorf("Sand may settle on the source marker, got %v", err)
	}

	if _, err := g.Get(Point{X: -1, Y: 0}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds, got %v", err)
	}
	if _, err := g.Open(Point{X: 0, Y: 3}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds, got %v", err)
	}
}

func TestSynthesizeFloorReference(t *testing.T) {
	c, err := SynthesizeFloor(buildReference(t))
	if err != nil {
		t.Fatal(err)
	}

	if c.Grid.Height() != 12 {
		t.Errorf("Expected height 12 (lowest rock 9 + 2 + floor), got %d", c.Grid.Height())
	}
	if c.Grid.Width() != 200 {
		t.Errorf("Expected width to stay 200, got %d", c.Grid.Width())
	}
	floor, _ := c.Grid.Row(c.Grid.Height() - 1)
	for x, cell := range floor {
		if cell != Rock {
			t.Fatalf("floor cell %d is %s", x, cell)
		}
	}
	if c.Source != (Point{X: 100, Y: 0}) {
		t.Errorf("Expected source (100,0), got %v", c.Source)
	}
	if got := c.Grid.Count(Rock); got != 20+200 {
		t.Errorf("Expected 20 path rocks plus 200 floor cells, got %d", got)
	}
}

func TestSynthesizeFloorPadsNarrowCave(t *testing.T) {
	paths, _ := ParsePathsString("2,5 -> 6,5")
	base, err := Build(paths, BuildOptions{Width: 10, Height: 20, Source: Point{X: 4, Y: 0}})
	if err != nil {
		t.Fatal(err)
	}

	c, err := SynthesizeFloor(base)
	if err != nil {
		t.Fatal(err)
	}

	// rows 0..6 kept, width 10 < 14 so 3 columns are added per side
	if c.Grid.Width() != 16 || c.Grid.Height() != 8 {
		t.Fatalf("Expected 16x8, got %dx%d", c.Grid.Width(), c.Grid.Height())
	}
	if c.Grid.Width() < 2*(c.Grid.Height()-1) {
		t.Errorf("width %d below twice the kept height", c.Grid.Width())
	}
	if c.Source != (Point{X: 7, Y: 0}) {
		t.Errorf("Expected shifted source (7,0), got %v", c.Source)
	}
	if cell, _ := c.Grid.Get(c.Source); cell != SourceMarker {
		t.Errorf("Expected source marker at shifted source, got %s", cell)
	}
	if cell, _ := c.Grid.Get(Point{X: 5, Y: 5}); cell != Rock {
		t.Errorf("Expected shifted rock at (5,5), got %s", cell)
	}
	if lowest := c.Grid.LowestRow(Rock); lowest != 7 {
		t.Errorf("Expected floor as lowest rock row 7, got %d", lowest)
	}
}

func TestSynthesizeFloorGrowsShortGrid(t *testing.T) {
	paths, _ := ParsePathsString("0,4 -> 9,4")
	base, err := Build(paths, BuildOptions{Width: 40, Height: 5, Source: Point{X: 5, Y: 0}})
	if err != nil {
		t.Fatal(err)
	}
	c, err := SynthesizeFloor(base)
	if err != nil {
		t.Fatal(err)
	}
	if c.Grid.Height() != 7 {
		t.Errorf("Expected height 7, got %d", c.Grid.Height())
	}
	row, _ := c.Grid.Row(5)
	for _, cell := range row {
		if cell != Empty {
			t.Fatalf("Expected empty gap row, got %s", cell)
		}
	}
}

func TestSynthesizeFloorWithoutRock(t *testing.T) {
	base, err := Build(nil, BuildOptions{Width: 10, Height: 10, Source: Point{X: 5}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := SynthesizeFloor(base); !errors.Is(err, ErrNoRock) {
		t.Errorf("Expected ErrNoRock, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	open, err := Load(strings.NewReader(referenceInput), referenceOptions(), false)
	if err != nil {
		t.Fatal(err)
	}
	if open.Grid.Height() != 200 || open.Source != (Point{X: 100, Y: 0}) {
		t.Errorf("Expected unchanged 200-row grid with source (100,0), got %d rows, source %v", open.Grid.Height(), open.Source)
	}

	floored, err := Load(strings.NewReader(referenceInput), referenceOptions(), true)
	if err != nil {
		t.Fatal(err)
	}
	if floored.Grid.Height() != 12 {
		t.Errorf("Expected floor grid height 12, got %d", floored.Grid.Height())
	}

	var perr *ParseError
	if _, err := Load(strings.NewReader("1,1 -> 2,2"), referenceOptions(), false); !errors.As(err, &perr) {
		t.Errorf("Expected *ParseError, got %v", err)
	}
	if _, err := Load(strings.NewReader(""), referenceOptions(), true); !errors.Is(err, ErrNoRock) {
		t.Errorf("Expected ErrNoRock, got %v", err)
	}
}

func TestRenderCropped(t *testing.T) {
	c := buildReference(t)

	want := strings.Join([]string{
		"......+...",
		"..........",
		"..........",
		"..........",
		"....#...##",
		"....#...#.",
		"..###...#.",
		"........#.",
		"........#.",
		"#########.",
	}, "\n") + "\n"

	if got := RenderCropped(c.Grid, nil, 0); got != want {
		t.Errorf("render mismatch:\n%s\nwant:\n%s", got, want)
	}

	withGrain := RenderCropped(c.Grid, []Point{{X: 100, Y: 1}}, 0)
	if lines := strings.Split(withGrain, "\n"); lines[1] != "......~..." {
		t.Errorf("Expected falling grain on row 1, got %q", lines[1])
	}
}

func TestFromRowsRoundTrip(t *testing.T) {
	c := buildReference(t)
	rows := Lines(Render(c.Grid, []Point{{X: 100, Y: 2}}))
	if len(rows) != 200 {
		t.Fatalf("Expected 200 rows, got %d", len(rows))
	}
	g, err := FromRows(rows)
	if err != nil {
		t.Fatal(err)
	}
	if g.Count(Rock) != c.Grid.Count(Rock) {
		t.Errorf("rock count changed: %d vs %d", g.Count(Rock), c.Grid.Count(Rock))
	}
	if p, ok := g.Find(SourceMarker); !ok || p != c.Source {
		t.Errorf("Expected source marker at %v, got %v", c.Source, p)
	}

	if _, err := FromRows([]string{"..", "..."}); err == nil {
		t.Errorf("Expected ragged rows to fail")
	}
	if _, err := FromRows([]string{".x"}); err == nil {
		t.Errorf("Expected unknown glyph to fail")
	}
}
