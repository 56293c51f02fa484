// Package grain defines the falling sand entity.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package grain

import "github.com/MRamiBalles/sand-dropper/internal/domain/cave"

// Status is the lifecycle stage of a grain.
type Status string

const (
	StatusFalling Status = "Falling"
	StatusSettled Status = "Settled" // Committed into the grid as SettledSand
	StatusRemoved Status = "Removed" // Fell into the void below an open bottom
)

// ID identifies a grain for its whole life. IDs follow spawn order and are never reused.
type ID uint64

// Grain is one unit of sand. Its position is transient until it settles.
type Grain struct {
	ID        ID         `json:"id"`
	Pos       cave.Point `json:"pos"`
	Status    Status     `json:"status"`
	SpawnTick int64      `json:"spawn_tick"`
	Steps     int        `json:"steps"` // Cells moved since spawn
}

// New creates a falling grain at the source.
func New(id ID, source cave.Point, tick int64) *Grain {
	return &Grain{
		ID:        id,
		Pos:       source,
		Status:    StatusFalling,
		SpawnTick: tick,
	}
}

// Falling reports whether the grain is still in flight.
func (g *Grain) Falling() bool { return g.Status == StatusFalling }

// MoveTo advances the grain to p.
func (g *Grain) MoveTo(p cave.Point) {
	g.Pos = p
	g.Steps++
}

// Settle marks the grain as resting at its current position.
func (g *Grain) Settle() { g.Status = StatusSettled }

// Remove marks the grain as lost.
func (g *Grain) Remove() { g.Status = StatusRemoved }
