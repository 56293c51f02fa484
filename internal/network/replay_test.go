package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/engine"
	"github.com/MRamiBalles/sand-dropper/internal/events"
	"github.com/MRamiBalles/sand-dropper/internal/infra/storage"
	"github.com/MRamiBalles/sand-dropper/internal/platform/config"
	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
	"github.com/MRamiBalles/sand-dropper/internal/platform/metrics"
)

func liveLog() *events.EventLog {
	el := events.NewEventLog()
	el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeRunStarted, X: 100})
	el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeGrainSpawned, Tick: 0, GrainID: 1, X: 100})
	el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeTick, Tick: 0})
	el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeGrainSettled, Tick: 9, GrainID: 1, X: 100, Y: 8})
	el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeTick, Tick: 9})
	return el
}

func get(t *testing.T, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestReplayLiveRunFromMemory(t *testing.T) {
	rh := NewReplayHandler(liveLog(), "live", nil, nil, logger.Discard())

	rec := get(t, rh.HandleReplay, "/api/replay")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReplayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "live", resp.RunID)
	assert.Equal(t, "memory", resp.Source)
	assert.Equal(t, 3, resp.TotalEvents, "TICK events are left out")

	rec = get(t, rh.HandleReplay, "/api/replay?run_id=live&type=GRAIN_SETTLED&since_tick=5")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Grain 1 came to rest at (100,8).", resp.Events[0].Summary)
	assert.Equal(t, "type=GRAIN_SETTLED, since_tick=5", resp.FilteredBy)
}

func TestReplayBadRequests(t *testing.T) {
	rh := NewReplayHandler(liveLog(), "live", nil, nil, logger.Discard())

	assert.Equal(t, http.StatusBadRequest, get(t, rh.HandleReplay, "/api/replay?since_tick=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, rh.HandleReplay, "/api/replay?since_tick=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, rh.HandleReplay, "/api/replay?type=TICK").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, rh.HandleReplay, "/api/replay?grain_id=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, rh.HandleReplay, "/api/replay?grain_id=one").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, rh.HandleCave, "/api/runs/cave?run_id=old").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, rh.HandleReplay, "/api/replay?run_id=old").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, rh.HandleRuns, "/api/runs").Code)

	rec := httptest.NewRecorder()
	rh.HandleReplay(rec, httptest.NewRequest(http.MethodPost, "/api/replay", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReplayStoredRun(t *testing.T) {
	ctx := context.Background()
	db, err := storage.InitSQLite(filepath.Join(t.TempDir(), "sand.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runs := storage.NewSQLiteRunRepository(db)
	eventRepo := storage.NewSQLiteEventRepository(db)
	require.NoError(t, runs.Create(ctx, storage.Run{ID: "old", Input: "1,1 -> 1,3", Width: 10, Height: 10, Cadence: 3}))
	now := time.Now().UTC()
	for i, e := range []storage.StoredEvent{
		{ID: "a", RunID: "old", Seq: 1, Timestamp: now, EventType: "GRAIN_SPAWNED", Tick: 0, GrainID: 1, X: 5},
		{ID: "b", RunID: "old", Seq: 2, Timestamp: now, EventType: "GRAIN_SETTLED", Tick: 4, GrainID: 1, X: 5, Y: 4},
		{ID: "c", RunID: "old", Seq: 3, Timestamp: now, EventType: "SOURCE_BLOCKED", Tick: 4, X: 5},
	} {
		require.NoError(t, eventRepo.Append(ctx, e), "event %d", i)
	}
	require.NoError(t, runs.Finish(ctx, "old", storage.RunStatusBlocked, storage.Totals{Ticks: 5, Spawned: 1, Settled: 1}))

	rh := NewReplayHandler(liveLog(), "live", runs, eventRepo, logger.Discard())

	var resp ReplayResponse
	rec := get(t, rh.HandleReplay, "/api/replay?run_id=old")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "storage", resp.Source)
	assert.Equal(t, 3, resp.TotalEvents)

	rec = get(t, rh.HandleRuns, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		LiveRunID string        `json:"live_run_id"`
		Runs      []storage.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "live", list.LiveRunID)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, storage.RunStatusBlocked, list.Runs[0].Status)

	rec = get(t, rh.HandleSummary, "/api/runs/summary?run_id=old")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum storage.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Settled)
	assert.True(t, sum.SourceBlocked)
	assert.Equal(t, 4, sum.DeepestRow)

	assert.Equal(t, http.StatusNotFound, get(t, rh.HandleSummary, "/api/runs/summary?run_id=nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, rh.HandleSummary, "/api/runs/summary").Code)
}

func TestStats(t *testing.T) {
	rh := NewReplayHandler(liveLog(), "live", nil, nil, logger.Discard())

	rec := get(t, rh.HandleStats, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Stats map[string]int `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Stats["total_events"])
	assert.Equal(t, 1, body.Stats["spawned"])
	assert.Equal(t, 1, body.Stats["settled"])
	assert.Equal(t, 0, body.Stats["lost"])
}

func openReplayDB(t *testing.T) (*storage.SQLiteRunRepository, *storage.SQLiteEventRepository) {
	t.Helper()
	db, err := storage.InitSQLite(filepath.Join(t.TempDir(), "sand.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewSQLiteRunRepository(db), storage.NewSQLiteEventRepository(db)
}

func TestReplayFiltersByGrain(t *testing.T) {
	el := liveLog()
	el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeGrainSpawned, Tick: 3, GrainID: 2, X: 100})
	rh := NewReplayHandler(el, "live", nil, nil, logger.Discard())

	rec := get(t, rh.HandleReplay, "/api/replay?grain_id=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReplayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "GRAIN_SPAWNED", resp.Events[0].Type)
	assert.Equal(t, "GRAIN_SETTLED", resp.Events[1].Type)
	assert.Equal(t, "grain_id=1", resp.FilteredBy)

	rec = get(t, rh.HandleReplay, "/api/replay?grain_id=2&type=GRAIN_SETTLED")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Events)
	assert.Equal(t, "type=GRAIN_SETTLED, grain_id=2", resp.FilteredBy)
}

func TestReplayStoredRunFiltersByGrain(t *testing.T) {
	ctx := context.Background()
	runs, eventRepo := openReplayDB(t)
	require.NoError(t, runs.Create(ctx, storage.Run{ID: "old", Width: 10, Height: 10, Cadence: 1}))
	now := time.Now().UTC()
	for i, e := range []storage.StoredEvent{
		{ID: "a", RunID: "old", Seq: 1, Timestamp: now, EventType: "GRAIN_SPAWNED", Tick: 0, GrainID: 1, X: 5},
		{ID: "b", RunID: "old", Seq: 2, Timestamp: now, EventType: "GRAIN_SPAWNED", Tick: 1, GrainID: 2, X: 5},
		{ID: "c", RunID: "old", Seq: 3, Timestamp: now, EventType: "GRAIN_SETTLED", Tick: 4, GrainID: 1, X: 5, Y: 4},
	} {
		require.NoError(t, eventRepo.Append(ctx, e), "event %d", i)
	}
	rh := NewReplayHandler(liveLog(), "live", runs, eventRepo, logger.Discard())

	rec := get(t, rh.HandleReplay, "/api/replay?run_id=old&grain_id=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReplayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, uint64(2), resp.Events[0].GrainID)
	assert.Equal(t, "storage", resp.Source)
}

func TestReplayAfterRetention(t *testing.T) {
	fill := func(el *events.EventLog) {
		el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeGrainSpawned, Tick: 0, GrainID: 1, X: 100})
		el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeGrainSettled, Tick: 8, GrainID: 1, X: 100, Y: 8})
		el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeGrainSpawned, Tick: 9, GrainID: 2, X: 100})
		el.Append(events.SimEvent{RunID: "live", Type: events.EventTypeTick, Tick: 9})
	}

	t.Run("memory only", func(t *testing.T) {
		el := events.NewEventLog(events.WithRetention(2))
		fill(el)
		rh := NewReplayHandler(el, "live", nil, nil, logger.Discard())

		var resp ReplayResponse
		rec := get(t, rh.HandleReplay, "/api/replay")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "memory", resp.Source)
		assert.True(t, resp.Truncated)
		assert.Equal(t, 1, resp.TotalEvents)
	})

	t.Run("complete log is not truncated", func(t *testing.T) {
		el := events.NewEventLog()
		fill(el)
		rh := NewReplayHandler(el, "live", nil, nil, logger.Discard())

		var resp ReplayResponse
		require.NoError(t, json.Unmarshal(get(t, rh.HandleReplay, "/api/replay").Body.Bytes(), &resp))
		assert.False(t, resp.Truncated)
		assert.Equal(t, 3, resp.TotalEvents)
	})

	t.Run("falls back to storage", func(t *testing.T) {
		ctx := context.Background()
		runs, eventRepo := openReplayDB(t)
		require.NoError(t, runs.Create(ctx, storage.Run{ID: "live", Width: 200, Height: 12, Cadence: 3}))
		el := events.NewEventLog(
			events.WithRetention(2),
			events.WithPersister(storage.NewEventPersister(eventRepo, metrics.NewCollector()), 16),
		)
		fill(el)
		el.Close()
		rh := NewReplayHandler(el, "live", runs, eventRepo, logger.Discard())

		var resp ReplayResponse
		rec := get(t, rh.HandleReplay, "/api/replay")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "storage", resp.Source)
		assert.False(t, resp.Truncated)
		assert.Equal(t, 3, resp.TotalEvents)
	})
}

func TestRunCaveRebuildsStoredRun(t *testing.T) {
	ctx := context.Background()
	runs, eventRepo := openReplayDB(t)
	cfg := config.DefaultConfig()
	c, err := cave.Load(strings.NewReader(mirrorInput), cave.BuildOptions{
		Width:  cfg.Width,
		Height: cfg.Height,
		Source: cave.Point{X: cfg.SourceX, Y: cfg.SourceY},
		Offset: cave.Point{X: cfg.OffsetX, Y: cfg.OffsetY},
	}, cfg.Floor)
	require.NoError(t, err)
	cfgJSON, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, runs.Create(ctx, storage.Run{
		ID:         "run-1",
		StartedAt:  time.Now(),
		Status:     storage.RunStatusRunning,
		Input:      mirrorInput,
		ConfigJSON: string(cfgJSON),
		Width:      c.Grid.Width(),
		Height:     c.Grid.Height(),
		SourceX:    c.Source.X,
		SourceY:    c.Source.Y,
		Floor:      cfg.Floor,
		Cadence:    cfg.SpawnCadence,
	}))

	m := metrics.NewCollector()
	el := events.NewEventLog(events.WithPersister(storage.NewEventPersister(eventRepo, m), 64))
	sim, err := engine.NewSimulator(c, cfg.SpawnCadence)
	require.NoError(t, err)
	eng := engine.NewEngine(sim, el, logger.Discard(), engine.Options{RunID: "run-1", Metrics: m})
	_, err = eng.RunHeadless(ctx)
	require.NoError(t, err)
	el.Close()

	rh := NewReplayHandler(events.NewEventLog(), "live", runs, eventRepo, logger.Discard())
	rec := get(t, rh.HandleCave, "/api/runs/cave?run_id=run-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CaveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 93, resp.Settled)
	assert.Equal(t, c.Source, resp.Source)
	assert.Equal(t, c.Grid.Height(), resp.Height)
	assert.Equal(t, cave.Lines(cave.Render(eng.Grid(), nil)), resp.Rows)

	assert.Equal(t, http.StatusBadRequest, get(t, rh.HandleCave, "/api/runs/cave").Code)
	assert.Equal(t, http.StatusNotFound, get(t, rh.HandleCave, "/api/runs/cave?run_id=nope").Code)

	require.NoError(t, runs.Create(ctx, storage.Run{ID: "bare", Input: mirrorInput, Width: 1, Height: 1}))
	assert.Equal(t, http.StatusConflict, get(t, rh.HandleCave, "/api/runs/cave?run_id=bare").Code)
}
