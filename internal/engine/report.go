package engine

import (
	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/domain/grain"
)

// GrainPosition pairs a grain with a grid coordinate.
type GrainPosition struct {
	ID grain.ID `json:"id"`
	X  int      `json:"x"`
	Y  int      `json:"y"`
}

func positionOf(g *grain.Grain) GrainPosition {
	return GrainPosition{ID: g.ID, X: g.Pos.X, Y: g.Pos.Y}
}

// Point returns the grid coordinate.
func (p GrainPosition) Point() cave.Point { return cave.Point{X: p.X, Y: p.Y} }

// TickReport is everything a presentation layer needs to know about one tick.
// Moved carries grains still falling, Settled grains that came to rest,
// Lost grains that fell out of an open-bottom cave, Merged grains that found
// their cell already filled and left play without adding sand.
type TickReport struct {
	Tick          int64           `json:"tick"`
	Spawned       []GrainPosition `json:"spawned,omitempty"`
	Moved         []GrainPosition `json:"moved,omitempty"`
	Settled       []GrainPosition `json:"settled,omitempty"`
	Lost          []GrainPosition `json:"lost,omitempty"`
	Merged        []GrainPosition `json:"merged,omitempty"`
	SourceBlocked bool            `json:"source_blocked"`
}

// Empty reports whether nothing happened during the tick.
func (r TickReport) Empty() bool {
	return len(r.Spawned) == 0 && len(r.Moved) == 0 && len(r.Settled) == 0 && len(r.Lost) == 0 &&
		len(r.Merged) == 0 && !r.SourceBlocked
}

// Stats are running totals since the simulator was created.
// Spawned always equals Settled + Lost + Merged + Active.
type Stats struct {
	Ticks   int64 `json:"ticks"`
	Spawned int   `json:"spawned"`
	Settled int   `json:"settled"`
	Lost    int   `json:"lost"`
	Merged  int   `json:"merged"`
	Active  int   `json:"active"`
}

// Snapshot is a full view of the simulation, used to seed late-joining viewers.
type Snapshot struct {
	Tick          int64           `json:"tick"`
	Width         int             `json:"width"`
	Height        int             `json:"height"`
	Source        cave.Point      `json:"source"`
	Rows          []string        `json:"rows"`
	Falling       []GrainPosition `json:"falling"`
	Stats         Stats           `json:"stats"`
	SourceBlocked bool            `json:"source_blocked"`
}
