package storage

import (
	"context"
	"fmt"
	"slices"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/events"
)

// Reconstructor rebuilds the state of a stored run from its event ledger:
// state = f(base cave, events).
type Reconstructor struct {
	eventRepo EventRepository
}

// NewReconstructor creates a new state reconstructor.
func NewReconstructor(eventRepo EventRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo}
}

// RunSummary is the per-run recap served to viewers that join after the fact.
type RunSummary struct {
	RunID         string      `json:"run_id"`
	Spawned       int         `json:"spawned"`
	Settled       int         `json:"settled"`
	Lost          int         `json:"lost"`
	Merged        int         `json:"merged"`
	SourceBlocked bool        `json:"source_blocked"`
	LastTick      int64       `json:"last_tick"`
	SettledPerRow map[int]int `json:"settled_per_row"`
	DeepestRow    int         `json:"deepest_row"` // -1 when nothing settled
}

// RebuildCave replays the settle events of a run onto a copy of base, the cave
// as it was before the first tick.
func (r *Reconstructor) RebuildCave(ctx context.Context, runID string, base *cave.Grid) (*cave.Grid, error) {
	settled, err := r.eventRepo.GetByEventType(ctx, runID, string(events.EventTypeGrainSettled))
	if err != nil {
		return nil, fmt.Errorf("failed to get settle events: %w", err)
	}
	return ApplySettles(base, settled)
}

// ApplySettles writes every GRAIN_SETTLED event onto a copy of base.
func ApplySettles(base *cave.Grid, evs []StoredEvent) (*cave.Grid, error) {
	g := base.Clone()
	for _, e := range evs {
		if e.EventType != string(events.EventTypeGrainSettled) {
			continue
		}
		if err := g.Set(cave.Point{X: e.X, Y: e.Y}, cave.SettledSand); err != nil {
			return nil, fmt.Errorf("replay event %d (grain %d): %w", e.Seq, e.GrainID, err)
		}
	}
	return g, nil
}

// Summarize counts what happened during a run.
func (r *Reconstructor) Summarize(ctx context.Context, runID string) (*RunSummary, error) {
	evs, err := r.eventRepo.GetByRunID(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}

	sum := &RunSummary{
		RunID:         runID,
		SettledPerRow: make(map[int]int),
		DeepestRow:    -1,
	}
	for _, e := range evs {
		sum.LastTick = max(sum.LastTick, e.Tick)
		switch events.EventType(e.EventType) {
		case events.EventTypeGrainSpawned:
			sum.Spawned++
		case events.EventTypeGrainSettled:
			sum.Settled++
			sum.SettledPerRow[e.Y]++
			sum.DeepestRow = max(sum.DeepestRow, e.Y)
		case events.EventTypeGrainLost:
			sum.Lost++
		case events.EventTypeGrainMerged:
			sum.Merged++
		case events.EventTypeSourceBlocked:
			sum.SourceBlocked = true
		}
	}
	return sum, nil
}

// Rows returns the rows that hold settled sand, top to bottom.
func (s *RunSummary) Rows() []int {
	rows := make([]int, 0, len(s.SettledPerRow))
	for y := range s.SettledPerRow {
		rows = append(rows, y)
	}
	slices.Sort(rows)
	return rows
}
