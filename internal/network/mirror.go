package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/domain/grain"
	"github.com/MRamiBalles/sand-dropper/internal/engine"
)

// ErrTickGap is returned by Apply when a report skips ticks the mirror never
// saw. The mirror is stale until the next snapshot.
var ErrTickGap = errors.New("network: tick reports missing, snapshot needed")

// Mirror is a viewer-side copy of the simulation, seeded from a snapshot and
// kept current by tick reports alone.
type Mirror struct {
	grid    *cave.Grid
	falling map[grain.ID]cave.Point
	tick    int64 // next tick the mirror expects
	blocked bool
	stats   engine.Stats
}

// NewMirror rebuilds the grid from a snapshot.
func NewMirror(snap engine.Snapshot) (*Mirror, error) {
	g, err := cave.FromRows(snap.Rows)
	if err != nil {
		return nil, err
	}
	m := &Mirror{
		grid:    g,
		falling: make(map[grain.ID]cave.Point, len(snap.Falling)),
		tick:    snap.Tick,
		blocked: snap.SourceBlocked,
		stats:   snap.Stats,
	}
	for _, p := range snap.Falling {
		m.falling[p.ID] = p.Point()
	}
	return m, nil
}

// Apply folds one report into the mirror. Reports older than the snapshot are
// ignored and reported as not applied. A report past the next expected tick
// is not applied and returns ErrTickGap.
func (m *Mirror) Apply(r engine.TickReport) (bool, error) {
	if r.Tick < m.tick {
		return false, nil
	}
	if r.Tick > m.tick {
		return false, fmt.Errorf("got tick %d, expected %d: %w", r.Tick, m.tick, ErrTickGap)
	}
	for _, p := range r.Spawned {
		// A grain spawned out of cadence can already be in the snapshot.
		if _, ok := m.falling[p.ID]; !ok {
			m.stats.Spawned++
		}
		m.falling[p.ID] = p.Point()
	}
	for _, p := range r.Moved {
		m.falling[p.ID] = p.Point()
	}
	for _, p := range r.Settled {
		delete(m.falling, p.ID)
		if err := m.grid.Set(p.Point(), cave.SettledSand); err != nil {
			return false, fmt.Errorf("tick %d: %w", r.Tick, err)
		}
		m.stats.Settled++
	}
	for _, p := range r.Lost {
		delete(m.falling, p.ID)
		m.stats.Lost++
	}
	for _, p := range r.Merged {
		delete(m.falling, p.ID)
		m.stats.Merged++
	}
	m.tick = r.Tick + 1
	m.stats.Ticks = m.tick
	m.stats.Active = len(m.falling)
	if r.SourceBlocked {
		m.blocked = true
	}
	return true, nil
}

// Handle decodes one message line and applies it. A SNAPSHOT replaces the
// mirror's state. It returns the message type.
func (m *Mirror) Handle(line []byte) (string, error) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return "", err
	}
	switch env.Type {
	case MessageSnapshot:
		var snap engine.Snapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			return env.Type, err
		}
		fresh, err := NewMirror(snap)
		if err != nil {
			return env.Type, err
		}
		*m = *fresh
	case MessageTick:
		if m.grid == nil {
			return env.Type, fmt.Errorf("tick before snapshot")
		}
		var r engine.TickReport
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return env.Type, err
		}
		if _, err := m.Apply(r); err != nil {
			return env.Type, err
		}
	case MessageError:
		var msg string
		_ = json.Unmarshal(env.Payload, &msg)
		return env.Type, fmt.Errorf("server: %s", msg)
	}
	return env.Type, nil
}

// Grid returns the mirrored grid. Callers must not modify it.
func (m *Mirror) Grid() *cave.Grid { return m.grid }

// Blocked reports whether a report with the terminal flag was seen.
func (m *Mirror) Blocked() bool { return m.blocked }

// Stats returns the totals as counted from the reports.
func (m *Mirror) Stats() engine.Stats { return m.stats }

// Render draws the bounding box of the mirrored cave with falling grains.
func (m *Mirror) Render(margin int) string {
	pts := make([]cave.Point, 0, len(m.falling))
	for _, p := range m.falling {
		pts = append(pts, p)
	}
	return cave.RenderCropped(m.grid, pts, margin)
}
