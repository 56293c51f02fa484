package engine

import (
	"errors"
	"fmt"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/domain/grain"
	"github.com/MRamiBalles/sand-dropper/internal/domain/rules"
)

// ErrSourceBlocked is returned once sand has piled up to the source.
var ErrSourceBlocked = errors.New("engine: source is blocked")

// Simulator owns the cave grid and the grains in flight. It is the only writer
// of grid cells after construction and is not safe for concurrent use.
type Simulator struct {
	grid    *cave.Grid
	source  cave.Point
	spawner Spawner

	active  []*grain.Grain  // spawn order
	pending []GrainPosition // Spawn calls not yet reported
	nextID  grain.ID
	tick    int64

	blocked bool
	stats   Stats
}

// NewSimulator takes ownership of c.Grid.
func NewSimulator(c *cave.Cave, cadence int) (*Simulator, error) {
	if c == nil || c.Grid == nil {
		return nil, fmt.Errorf("engine: nil cave")
	}
	if !c.Grid.InBounds(c.Source) {
		return nil, fmt.Errorf("engine: source (%d,%d): %w", c.Source.X, c.Source.Y, cave.ErrOutOfBounds)
	}
	sp, err := NewSpawner(cadence)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		grid:    c.Grid,
		source:  c.Source,
		spawner: sp,
		nextID:  1,
	}, nil
}

// Advance runs one tick: spawn a grain if the cadence says so, then step every
// falling grain. After the source is blocked it returns ErrSourceBlocked
// without doing anything.
func (s *Simulator) Advance() (TickReport, error) {
	if s.blocked {
		return TickReport{Tick: s.tick}, ErrSourceBlocked
	}

	report := s.newReport()
	if s.spawner.Due(s.tick) {
		g, err := s.spawn()
		if errors.Is(err, ErrSourceBlocked) {
			report.SourceBlocked = true
			s.tick++
			s.stats.Ticks = s.tick
			return report, nil
		}
		if err != nil {
			return report, err
		}
		report.Spawned = append(report.Spawned, positionOf(g))
	}

	if err := s.step(&report); err != nil {
		return report, err
	}
	return report, nil
}

// Step moves every falling grain once without spawning.
func (s *Simulator) Step() (TickReport, error) {
	if s.blocked {
		return TickReport{Tick: s.tick}, ErrSourceBlocked
	}
	report := s.newReport()
	err := s.step(&report)
	return report, err
}

// Spawn adds a grain at the source outside the cadence. It is listed under
// Spawned in the next report.
func (s *Simulator) Spawn() (GrainPosition, error) {
	if s.blocked {
		return GrainPosition{}, ErrSourceBlocked
	}
	g, err := s.spawn()
	if err != nil {
		return GrainPosition{}, err
	}
	pos := positionOf(g)
	s.pending = append(s.pending, pos)
	return pos, nil
}

func (s *Simulator) newReport() TickReport {
	r := TickReport{Tick: s.tick}
	if len(s.pending) > 0 {
		r.Spawned = s.pending
		s.pending = nil
	}
	return r
}

func (s *Simulator) spawn() (*grain.Grain, error) {
	cell, err := s.grid.Get(s.source)
	if err != nil {
		return nil, err
	}
	if cell == cave.SettledSand {
		s.blocked = true
		return nil, ErrSourceBlocked
	}

	g := grain.New(s.nextID, s.source, s.tick)
	s.nextID++
	s.active = append(s.active, g)
	s.stats.Spawned++
	s.stats.Active = len(s.active)
	return g, nil
}

// step evaluates grains in spawn order. A settle is written to the grid at once
// so grains later in the same pass see it; removals are applied after the pass.
func (s *Simulator) step(report *TickReport) error {
	done := make(map[grain.ID]struct{})

	for _, g := range s.active {
		cell, err := s.grid.Get(g.Pos)
		if err != nil {
			return fmt.Errorf("engine: grain %d at tick %d: %w", g.ID, s.tick, err)
		}
		if cell == cave.SettledSand {
			// Another grain already rested here; this one merges into it
			// without a second settle.
			g.Remove()
			done[g.ID] = struct{}{}
			s.stats.Merged++
			report.Merged = append(report.Merged, positionOf(g))
			if g.Pos == s.source {
				s.blocked = true
				report.SourceBlocked = true
			}
			continue
		}

		mv, err := rules.NextMove(s.grid, g.Pos)
		if err != nil {
			return fmt.Errorf("engine: grain %d at tick %d: %w", g.ID, s.tick, err)
		}

		switch mv.Kind {
		case rules.Rest:
			if err := s.grid.Set(g.Pos, cave.SettledSand); err != nil {
				return fmt.Errorf("engine: settle grain %d: %w", g.ID, err)
			}
			g.Settle()
			done[g.ID] = struct{}{}
			s.stats.Settled++
			report.Settled = append(report.Settled, positionOf(g))
			if g.Pos == s.source {
				s.blocked = true
				report.SourceBlocked = true
			}
		case rules.Void:
			g.Remove()
			done[g.ID] = struct{}{}
			s.stats.Lost++
			report.Lost = append(report.Lost, positionOf(g))
		default:
			g.MoveTo(mv.To)
			report.Moved = append(report.Moved, positionOf(g))
		}
	}

	if len(done) > 0 {
		kept := s.active[:0]
		for _, g := range s.active {
			if _, ok := done[g.ID]; !ok {
				kept = append(kept, g)
			}
		}
		for i := len(kept); i < len(s.active); i++ {
			s.active[i] = nil
		}
		s.active = kept
	}

	s.tick++
	s.stats.Ticks = s.tick
	s.stats.Active = len(s.active)
	return nil
}

// Blocked reports whether the terminal state was reached.
func (s *Simulator) Blocked() bool { return s.blocked }

// Tick returns the number of the next tick to run.
func (s *Simulator) Tick() int64 { return s.tick }

// Source returns the spawn coordinate.
func (s *Simulator) Source() cave.Point { return s.source }

// Stats returns running totals.
func (s *Simulator) Stats() Stats { return s.stats }

// Cadence returns the spawn cadence in ticks.
func (s *Simulator) Cadence() int { return s.spawner.Cadence() }

// Falling returns the positions of grains in flight, in spawn order.
func (s *Simulator) Falling() []GrainPosition {
	out := make([]GrainPosition, 0, len(s.active))
	for _, g := range s.active {
		out = append(out, positionOf(g))
	}
	return out
}

// Grid returns a copy of the current grid.
func (s *Simulator) Grid() *cave.Grid { return s.grid.Clone() }

// Snapshot captures the grid and grains in flight.
func (s *Simulator) Snapshot() Snapshot {
	return Snapshot{
		Tick:          s.tick,
		Width:         s.grid.Width(),
		Height:        s.grid.Height(),
		Source:        s.source,
		Rows:          cave.Lines(cave.Render(s.grid, nil)),
		Falling:       s.Falling(),
		Stats:         s.stats,
		SourceBlocked: s.blocked,
	}
}
