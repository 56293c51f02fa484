package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/events"
	"github.com/MRamiBalles/sand-dropper/internal/infra/storage"
	"github.com/MRamiBalles/sand-dropper/internal/platform/config"
	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
)

// ReplayHandler serves the event history of the live run from memory and of
// past runs from storage.
type ReplayHandler struct {
	eventLog      *events.EventLog
	liveRunID     string
	runs          storage.RunRepository   // optional
	eventRepo     storage.EventRepository // optional
	reconstructor *storage.Reconstructor
	logger        *logger.Logger
}

// NewReplayHandler creates a replay handler. runs and eventRepo may be nil
// when the server runs without a database.
func NewReplayHandler(el *events.EventLog, liveRunID string, runs storage.RunRepository, eventRepo storage.EventRepository, log *logger.Logger) *ReplayHandler {
	h := &ReplayHandler{
		eventLog:  el,
		liveRunID: liveRunID,
		runs:      runs,
		eventRepo: eventRepo,
		logger:    log,
	}
	if eventRepo != nil {
		h.reconstructor = storage.NewReconstructor(eventRepo)
	}
	return h
}

// ReplayEvent is an event as served by the API.
type ReplayEvent struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Tick      int64  `json:"tick"`
	Type      string `json:"type"`
	GrainID   uint64 `json:"grain_id,omitempty"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Summary   string `json:"summary"`
}

// ReplayResponse is the API response for a replay.
type ReplayResponse struct {
	RunID       string        `json:"run_id"`
	Source      string        `json:"source"` // "memory" or "storage"
	TotalEvents int           `json:"total_events"`
	Truncated   bool          `json:"truncated"` // memory only: retention dropped the oldest events
	FilteredBy  string        `json:"filtered_by,omitempty"`
	GeneratedAt string        `json:"generated_at"`
	Events      []ReplayEvent `json:"events"`
}

// HandleReplay returns the event history of a run.
// GET /api/replay?run_id=XXX&type=GRAIN_SETTLED&since_tick=N&grain_id=N
func (rh *ReplayHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	runID := q.Get("run_id")
	if runID == "" {
		runID = rh.liveRunID
	}
	eventType := q.Get("type")
	var sinceTick int64
	if s := q.Get("since_tick"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			rh.jsonError(w, "since_tick must be a non-negative integer", http.StatusBadRequest)
			return
		}
		sinceTick = v
	}
	var grainID uint64
	if s := q.Get("grain_id"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil || v == 0 {
			rh.jsonError(w, "grain_id must be a positive integer", http.StatusBadRequest)
			return
		}
		grainID = v
	}
	if eventType == string(events.EventTypeTick) {
		rh.jsonError(w, "TICK events are streamed, not replayed", http.StatusBadRequest)
		return
	}

	resp := ReplayResponse{
		RunID:       runID,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      []ReplayEvent{},
	}
	var filters []string
	if eventType != "" {
		filters = append(filters, "type="+eventType)
	}
	if sinceTick > 0 {
		filters = append(filters, fmt.Sprintf("since_tick=%d", sinceTick))
	}
	if grainID > 0 {
		filters = append(filters, fmt.Sprintf("grain_id=%d", grainID))
	}
	if len(filters) > 0 {
		resp.FilteredBy = strings.Join(filters, ", ")
	}
	keep := func(typ string, tick int64, gid uint64) bool {
		if tick < sinceTick {
			return false
		}
		if eventType != "" && typ != eventType {
			return false
		}
		return grainID == 0 || gid == grainID
	}

	fromMemory := runID == rh.liveRunID && rh.eventLog != nil
	if fromMemory && rh.eventLog.FirstSeq() > 1 {
		// Retention dropped the start of the run. The store has all of it,
		// minus whatever its writer still has queued.
		if rh.eventRepo != nil {
			fromMemory = false
		} else {
			resp.Truncated = true
		}
	}

	if fromMemory {
		resp.Source = "memory"
		evs := rh.eventLog.Replay()
		if grainID > 0 {
			evs = rh.eventLog.ByGrain(grainID)
		}
		for _, e := range evs {
			if e.Type.Persistent() && keep(string(e.Type), e.Tick, e.GrainID) {
				resp.Events = append(resp.Events, fromSimEvent(e))
			}
		}
	} else {
		if rh.eventRepo == nil {
			rh.jsonError(w, "No storage configured", http.StatusServiceUnavailable)
			return
		}
		resp.Source = "storage"
		stored, err := rh.eventRepo.GetByRunID(r.Context(), runID, sinceTick)
		if err != nil {
			rh.logger.Errorf("Replay query for %s failed: %v", runID, err)
			rh.jsonError(w, "Failed to load events", http.StatusInternalServerError)
			return
		}
		for _, e := range stored {
			if keep(e.EventType, e.Tick, e.GrainID) {
				resp.Events = append(resp.Events, fromStored(e))
			}
		}
	}
	resp.TotalEvents = len(resp.Events)

	rh.logger.Event("REPLAY", "VIEWER", "RunID:"+runID+" Events:"+strconv.Itoa(resp.TotalEvents))
	rh.writeJSON(w, resp)
}

// HandleRuns lists stored runs, newest first.
// GET /api/runs?limit=N
func (rh *ReplayHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rh.runs == nil {
		rh.jsonError(w, "No storage configured", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			rh.jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = v
	}

	runs, err := rh.runs.List(r.Context(), limit)
	if err != nil {
		rh.logger.Errorf("Listing runs failed: %v", err)
		rh.jsonError(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	rh.writeJSON(w, map[string]interface{}{
		"live_run_id": rh.liveRunID,
		"runs":        runs,
	})
}

// HandleSummary returns per-run totals rebuilt from stored events.
// GET /api/runs/summary?run_id=XXX
func (rh *ReplayHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rh.reconstructor == nil || rh.runs == nil {
		rh.jsonError(w, "No storage configured", http.StatusServiceUnavailable)
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		rh.jsonError(w, "Missing run_id", http.StatusBadRequest)
		return
	}
	if _, err := rh.runs.Get(r.Context(), runID); err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			rh.jsonError(w, "Run not found", http.StatusNotFound)
			return
		}
		rh.jsonError(w, "Failed to load run", http.StatusInternalServerError)
		return
	}

	sum, err := rh.reconstructor.Summarize(r.Context(), runID)
	if err != nil {
		rh.logger.Errorf("Summary for %s failed: %v", runID, err)
		rh.jsonError(w, "Failed to summarize run", http.StatusInternalServerError)
		return
	}
	rh.writeJSON(w, sum)
}

// CaveResponse is a stored run's cave rebuilt from its settle events.
type CaveResponse struct {
	RunID   string     `json:"run_id"`
	Status  string     `json:"status"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Source  cave.Point `json:"source"`
	Settled int        `json:"settled"`
	Rows    []string   `json:"rows"`
}

// HandleCave rebuilds the cave of a stored run: the base cave comes from the
// stored input and configuration, the sand from the GRAIN_SETTLED events.
// GET /api/runs/cave?run_id=XXX
func (rh *ReplayHandler) HandleCave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rh.reconstructor == nil || rh.runs == nil {
		rh.jsonError(w, "No storage configured", http.StatusServiceUnavailable)
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		rh.jsonError(w, "Missing run_id", http.StatusBadRequest)
		return
	}
	run, err := rh.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			rh.jsonError(w, "Run not found", http.StatusNotFound)
			return
		}
		rh.jsonError(w, "Failed to load run", http.StatusInternalServerError)
		return
	}

	base, err := baseCave(run)
	if err != nil {
		rh.logger.Warnf("Cannot rebuild base cave of %s: %v", runID, err)
		rh.jsonError(w, "Stored run cannot be rebuilt: "+err.Error(), http.StatusConflict)
		return
	}
	g, err := rh.reconstructor.RebuildCave(r.Context(), runID, base.Grid)
	if err != nil {
		rh.logger.Errorf("Rebuilding cave of %s failed: %v", runID, err)
		rh.jsonError(w, "Failed to rebuild cave", http.StatusInternalServerError)
		return
	}

	rh.writeJSON(w, CaveResponse{
		RunID:   runID,
		Status:  run.Status,
		Width:   g.Width(),
		Height:  g.Height(),
		Source:  base.Source,
		Settled: g.Count(cave.SettledSand),
		Rows:    cave.Lines(cave.Render(g, nil)),
	})
}

// baseCave rebuilds the cave a run started from.
func baseCave(run *storage.Run) (*cave.Cave, error) {
	if run.ConfigJSON == "" {
		return nil, fmt.Errorf("no stored configuration")
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(run.ConfigJSON), &cfg); err != nil {
		return nil, fmt.Errorf("stored configuration: %w", err)
	}
	c, err := cave.Load(strings.NewReader(run.Input), cave.BuildOptions{
		Width:  cfg.Width,
		Height: cfg.Height,
		Source: cave.Point{X: cfg.SourceX, Y: cfg.SourceY},
		Offset: cave.Point{X: cfg.OffsetX, Y: cfg.OffsetY},
	}, run.Floor)
	if err != nil {
		return nil, err
	}
	if c.Grid.Width() != run.Width || c.Grid.Height() != run.Height {
		return nil, fmt.Errorf("rebuilt %dx%d, run recorded %dx%d", c.Grid.Width(), c.Grid.Height(), run.Width, run.Height)
	}
	return c, nil
}

// HandleStats returns event counts of the live run by type.
// GET /api/stats
func (rh *ReplayHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]int{
		"total_events":   0,
		"spawned":        0,
		"settled":        0,
		"lost":           0,
		"merged":         0,
		"source_blocked": 0,
	}
	for _, e := range rh.eventLog.Replay() {
		if !e.Type.Persistent() {
			continue
		}
		stats["total_events"]++
		switch e.Type {
		case events.EventTypeGrainSpawned:
			stats["spawned"]++
		case events.EventTypeGrainSettled:
			stats["settled"]++
		case events.EventTypeGrainLost:
			stats["lost"]++
		case events.EventTypeGrainMerged:
			stats["merged"]++
		case events.EventTypeSourceBlocked:
			stats["source_blocked"]++
		}
	}

	rh.writeJSON(w, map[string]interface{}{
		"run_id":       rh.liveRunID,
		"generated_at": time.Now().Format(time.RFC3339),
		"stats":        stats,
	})
}

// RegisterRoutes sets up the replay API routes.
func (rh *ReplayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/replay", rh.HandleReplay)
	mux.HandleFunc("/api/runs", rh.HandleRuns)
	mux.HandleFunc("/api/runs/summary", rh.HandleSummary)
	mux.HandleFunc("/api/runs/cave", rh.HandleCave)
	mux.HandleFunc("/api/stats", rh.HandleStats)
}

func fromSimEvent(e events.SimEvent) ReplayEvent {
	return ReplayEvent{
		Seq:       e.Seq,
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Tick:      e.Tick,
		Type:      string(e.Type),
		GrainID:   e.GrainID,
		X:         e.X,
		Y:         e.Y,
		Summary:   summarize(string(e.Type), e.GrainID, e.X, e.Y),
	}
}

func fromStored(e storage.StoredEvent) ReplayEvent {
	return ReplayEvent{
		Seq:       e.Seq,
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Tick:      e.Tick,
		Type:      e.EventType,
		GrainID:   e.GrainID,
		X:         e.X,
		Y:         e.Y,
		Summary:   summarize(e.EventType, e.GrainID, e.X, e.Y),
	}
}

// summarize creates a human-readable line for an event.
func summarize(eventType string, grainID uint64, x, y int) string {
	switch events.EventType(eventType) {
	case events.EventTypeRunStarted:
		return fmt.Sprintf("Run started with the source at (%d,%d).", x, y)
	case events.EventTypeGrainSpawned:
		return fmt.Sprintf("Grain %d entered at (%d,%d).", grainID, x, y)
	case events.EventTypeGrainSettled:
		return fmt.Sprintf("Grain %d came to rest at (%d,%d).", grainID, x, y)
	case events.EventTypeGrainLost:
		return fmt.Sprintf("Grain %d fell out of the cave at (%d,%d).", grainID, x, y)
	case events.EventTypeGrainMerged:
		return fmt.Sprintf("Grain %d merged into the sand at (%d,%d).", grainID, x, y)
	case events.EventTypeSourceBlocked:
		return "Sand reached the source."
	default:
		return "Unknown event."
	}
}

func (rh *ReplayHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rh.logger.Warnf("Failed to write response: %v", err)
	}
}

// jsonError sends an error response.
func (rh *ReplayHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
