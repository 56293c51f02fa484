// Package storage persists runs and their simulation events in SQLite so a
// finished run can be listed, replayed and rebuilt later.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("storage: run not found")

// Run statuses.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusBlocked   = "SOURCE_BLOCKED"
	RunStatusTickLimit = "TICK_LIMIT"
	RunStatusStopped   = "STOPPED"
	RunStatusFailed    = "FAILED"
)

// Run is one simulation from start to finish.
type Run struct {
	ID         string     `json:"run_id" db:"run_id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Status     string     `json:"status" db:"status"`
	Input      string     `json:"input" db:"input"` // Raw rock path text
	ConfigJSON string     `json:"config" db:"config_json"`
	Width      int        `json:"width" db:"width"`
	Height     int        `json:"height" db:"height"`
	SourceX    int        `json:"source_x" db:"source_x"`
	SourceY    int        `json:"source_y" db:"source_y"`
	Floor      bool       `json:"floor" db:"floor"`
	Cadence    int        `json:"cadence" db:"cadence"`
	Totals
}

// Totals are the counters stored when a run finishes.
type Totals struct {
	Ticks   int64 `json:"ticks" db:"ticks"`
	Spawned int   `json:"spawned" db:"spawned"`
	Settled int   `json:"settled" db:"settled"`
	Lost    int   `json:"lost" db:"lost"`
}

// StoredEvent mirrors events.SimEvent for persistence. Payload is kept as raw
// JSON; the reader decides what to decode it into.
type StoredEvent struct {
	ID        string          `json:"id" db:"id"`
	RunID     string          `json:"run_id" db:"run_id"`
	Seq       int64           `json:"seq" db:"seq"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	EventType string          `json:"event_type" db:"event_type"`
	Tick      int64           `json:"tick" db:"tick"`
	GrainID   uint64          `json:"grain_id" db:"grain_id"`
	X         int             `json:"x" db:"x"`
	Y         int             `json:"y" db:"y"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
}

// RunRepository stores run metadata.
type RunRepository interface {
	Create(ctx context.Context, run Run) error
	Finish(ctx context.Context, runID, status string, totals Totals) error
	Get(ctx context.Context, runID string) (*Run, error)
	// List returns the most recent runs first.
	List(ctx context.Context, limit int) ([]Run, error)
}

// EventRepository stores the event ledger of every run.
type EventRepository interface {
	// Append adds a new event to the immutable ledger.
	Append(ctx context.Context, event StoredEvent) error

	// GetByRunID retrieves the events of a run from sinceTick on, in
	// sequence order. sinceTick 0 returns the whole run.
	GetByRunID(ctx context.Context, runID string, sinceTick int64) ([]StoredEvent, error)

	// GetByEventType retrieves all events of a specific type.
	GetByEventType(ctx context.Context, runID string, eventType string) ([]StoredEvent, error)
}
