package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteRunRepository implements RunRepository for SQLite.
type SQLiteRunRepository struct {
	db *sql.DB
}

func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

func (r *SQLiteRunRepository) Create(ctx context.Context, run Run) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.ConfigJSON == "" {
		run.ConfigJSON = "{}"
	}

	query := `
		INSERT INTO runs (run_id, started_at, status, input, config_json, width, height, source_x, source_y, floor, cadence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.StartedAt.UTC(), run.Status, run.Input, run.ConfigJSON,
		run.Width, run.Height, run.SourceX, run.SourceY, run.Floor, run.Cadence,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (r *SQLiteRunRepository) Finish(ctx context.Context, runID, status string, totals Totals) error {
	query := `
		UPDATE runs SET finished_at = ?, status = ?, ticks = ?, spawned = ?, settled = ?, lost = ?
		WHERE run_id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		time.Now().UTC(), status, totals.Ticks, totals.Spawned, totals.Settled, totals.Lost, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, status, input, config_json, width, height, source_x, source_y, floor, cadence, ticks, spawned, settled, lost`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var run Run
	var finished sql.NullTime
	err := s.Scan(
		&run.ID, &run.StartedAt, &finished, &run.Status, &run.Input, &run.ConfigJSON,
		&run.Width, &run.Height, &run.SourceX, &run.SourceY, &run.Floor, &run.Cadence,
		&run.Ticks, &run.Spawned, &run.Settled, &run.Lost,
	)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, err
}

func (r *SQLiteRunRepository) Get(ctx context.Context, runID string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", runID, ErrRunNotFound)
		}
		return nil, err
	}
	return &run, nil
}

func (r *SQLiteRunRepository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ---------------------------------------------------------
// SQLiteEventRepository
// ---------------------------------------------------------

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event StoredEvent) error {
	payload := string(event.Payload)
	if payload == "" {
		payload = "null"
	}

	query := `
		INSERT INTO events (id, run_id, seq, timestamp, event_type, tick, grain_id, x, y, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.RunID, event.Seq, event.Timestamp.UTC(), event.EventType,
		event.Tick, int64(event.GrainID), event.X, event.Y, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const eventColumns = `id, run_id, seq, timestamp, event_type, tick, grain_id, x, y, payload`

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]StoredEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var grainID int64
		var payload string
		err := rows.Scan(
			&e.ID, &e.RunID, &e.Seq, &e.Timestamp, &e.EventType,
			&e.Tick, &grainID, &e.X, &e.Y, &payload,
		)
		if err != nil {
			return nil, err
		}
		e.GrainID = uint64(grainID)
		e.Payload = []byte(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteEventRepository) GetByRunID(ctx context.Context, runID string, sinceTick int64) ([]StoredEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE run_id = ? AND tick >= ? ORDER BY seq ASC`
	return r.getMany(ctx, query, runID, sinceTick)
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, runID string, eventType string) ([]StoredEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE run_id = ? AND event_type = ? ORDER BY seq ASC`
	return r.getMany(ctx, query, runID, eventType)
}
