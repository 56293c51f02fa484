// Package main is the entry point of the sand simulation server.
// It only handles dependency injection and startup; the simulation lives in
// internal/engine.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/engine"
	"github.com/MRamiBalles/sand-dropper/internal/events"
	"github.com/MRamiBalles/sand-dropper/internal/infra/storage"
	"github.com/MRamiBalles/sand-dropper/internal/network"
	"github.com/MRamiBalles/sand-dropper/internal/platform/config"
	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
	"github.com/MRamiBalles/sand-dropper/internal/platform/metrics"
	"github.com/google/uuid"
)

func main() {
	flag.Parse()
	log.Println("[SAND-SERVER] Initializing sand simulation server...")

	appLogger := logger.NewLogger()

	cfg, err := loadConfig()
	if err != nil {
		appLogger.Error("Invalid configuration: " + err.Error())
		os.Exit(1)
	}

	input, err := os.ReadFile(cfg.InputPath)
	if err != nil {
		appLogger.Error("Failed to read input: " + err.Error())
		os.Exit(1)
	}
	c, err := buildCave(cfg, input)
	if err != nil {
		appLogger.Error("Failed to build cave: " + err.Error())
		os.Exit(1)
	}
	appLogger.Infof("Cave %dx%d, source (%d,%d), floor=%v, cadence %d",
		c.Grid.Width(), c.Grid.Height(), c.Source.X, c.Source.Y, cfg.Floor, cfg.SpawnCadence)

	runID := uuid.NewString()
	collector := metrics.Get()

	var (
		runs      storage.RunRepository
		eventRepo storage.EventRepository
	)
	logOpts := []events.Option{events.WithRetention(cfg.EventRetention)}
	if cfg.DBPath != "" {
		appLogger.Infof("Initializing SQLite database '%s'...", cfg.DBPath)
		db, err := storage.InitSQLite(cfg.DBPath)
		if err != nil {
			appLogger.Error("Failed to initialize SQLite: " + err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if v, dirty, err := storage.MigrateVersion(db); err != nil {
			appLogger.Warn("Cannot read schema version: " + err.Error())
		} else if dirty {
			appLogger.Error(fmt.Sprintf("SQLite schema version %d is dirty, a migration failed halfway", v))
			os.Exit(1)
		} else {
			appLogger.Infof("SQLite schema at version %d", v)
		}

		runRepo, evRepo, err := registerRun(db, runID, cfg, c, string(input))
		if err != nil {
			appLogger.Error("Failed to record run: " + err.Error())
			os.Exit(1)
		}
		runs, eventRepo = runRepo, evRepo
		logOpts = append(logOpts,
			events.WithPersister(storage.NewEventPersister(eventRepo, collector), cfg.EventChannelBuffer),
			events.WithErrorHandler(func(e events.SimEvent, err error) {
				appLogger.Errorf("Failed to persist %s #%d: %v", e.Type, e.Seq, err)
			}),
		)
	}

	appLogger.Info("Bootstrapping EventLog...")
	eventLog := events.NewEventLog(logOpts...)

	sim, err := engine.NewSimulator(c, cfg.SpawnCadence)
	if err != nil {
		appLogger.Error("Failed to create simulator: " + err.Error())
		os.Exit(1)
	}
	eng := engine.NewEngine(sim, eventLog, appLogger, engine.Options{
		RunID:         runID,
		Metrics:       collector,
		StepInterval:  cfg.StepInterval(),
		FrameInterval: cfg.FrameInterval(),
		MaxCatchUp:    cfg.MaxCatchUp,
		MaxTicks:      cfg.MaxTicks,
	})
	appLogger.Event(string(events.EventTypeRunStarted), runID, "input "+cfg.InputPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var status string
	if *headless {
		status = runHeadless(ctx, eng, appLogger)
	} else {
		status = serve(ctx, cfg, eng, eventLog, runs, eventRepo, collector, appLogger)
	}

	// Drain the writer before the final totals go in.
	eventLog.Close()
	if runs != nil {
		st := eng.Stats()
		finishCtx, cancelFinish := context.WithTimeout(context.Background(), 5*time.Second)
		err := runs.Finish(finishCtx, runID, status, storage.Totals{
			Ticks:   st.Ticks,
			Spawned: st.Spawned,
			Settled: st.Settled,
			Lost:    st.Lost,
		})
		cancelFinish()
		if err != nil {
			appLogger.Error("Failed to finish run: " + err.Error())
		}
	}

	rec := config.Analyze(cfg, collector.Snapshot())
	for _, note := range rec.Notes {
		appLogger.Warn("Tuning: " + note)
	}
	log.Printf("[SAND-SERVER] Run %s finished: %s", runID, status)
}

func buildCave(cfg *config.Config, input []byte) (*cave.Cave, error) {
	return cave.Load(bytes.NewReader(input), cave.BuildOptions{
		Width:  cfg.Width,
		Height: cfg.Height,
		Source: cave.Point{X: cfg.SourceX, Y: cfg.SourceY},
		Offset: cave.Point{X: cfg.OffsetX, Y: cfg.OffsetY},
	}, cfg.Floor)
}

func registerRun(db *sql.DB, runID string, cfg *config.Config, c *cave.Cave, input string) (*storage.SQLiteRunRepository, *storage.SQLiteEventRepository, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, nil, err
	}
	runs := storage.NewSQLiteRunRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = runs.Create(ctx, storage.Run{
		ID:         runID,
		StartedAt:  time.Now(),
		Status:     storage.RunStatusRunning,
		Input:      input,
		ConfigJSON: string(cfgJSON),
		Width:      c.Grid.Width(),
		Height:     c.Grid.Height(),
		SourceX:    c.Source.X,
		SourceY:    c.Source.Y,
		Floor:      cfg.Floor,
		Cadence:    cfg.SpawnCadence,
	})
	if err != nil {
		return nil, nil, err
	}
	return runs, storage.NewSQLiteEventRepository(db), nil
}

func runHeadless(ctx context.Context, eng *engine.Engine, appLogger *logger.Logger) string {
	appLogger.Info("Running headless...")
	start := time.Now()

	var stop func(engine.TickReport) bool
	if *stopOnLost {
		stop = func(r engine.TickReport) bool { return len(r.Lost) > 0 }
	}
	stats, err := eng.RunUntil(ctx, stop)

	snap := eng.Snapshot()
	falling := make([]cave.Point, 0, len(snap.Falling))
	for _, g := range snap.Falling {
		falling = append(falling, g.Point())
	}
	fmt.Print(cave.RenderCropped(eng.Grid(), falling, 2))
	fmt.Printf("ticks=%d spawned=%d settled=%d lost=%d blocked=%v elapsed=%s\n",
		stats.Ticks, stats.Spawned, stats.Settled, stats.Lost, snap.SourceBlocked, time.Since(start).Round(time.Millisecond))

	return runStatus(err, snap.SourceBlocked)
}

func serve(ctx context.Context, cfg *config.Config, eng *engine.Engine, eventLog *events.EventLog,
	runs storage.RunRepository, eventRepo storage.EventRepository, collector *metrics.Collector, appLogger *logger.Logger) string {

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := network.NewHub(eng, appLogger, network.HubOptions{
		SendBuffer: cfg.ClientSendBuffer,
		Metrics:    collector,
	})
	go hub.Run(hubCtx)
	hub.StartEventPoller(hubCtx, eventLog)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	network.NewReplayHandler(eventLog, eng.RunID(), runs, eventRepo, appLogger).RegisterRoutes(mux)
	mux.HandleFunc("/metrics", collector.Handler())
	mux.HandleFunc("/metrics/prometheus", collector.PrometheusHandler())
	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eng.Snapshot())
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		appLogger.Infof("HTTP listening on %s (ws: /ws, api: /api/*, metrics: /metrics)", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed: " + err.Error())
			eng.Stop()
		}
	}()

	eng.Start(ctx)
	<-eng.Done()
	err := eng.Err()
	status := runStatus(err, eng.Snapshot().SourceBlocked)
	st := eng.Stats()
	appLogger.Infof("Run ended (%s) at tick %d: %d settled, %d lost", status, st.Ticks, st.Settled, st.Lost)

	if ctx.Err() == nil && cfg.Linger > 0 {
		appLogger.Infof("Serving the final state for %s...", cfg.Linger)
		select {
		case <-time.After(cfg.Linger):
		case <-ctx.Done():
		}
	}

	appLogger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP shutdown: " + err.Error())
	}
	return status
}

func runStatus(err error, blocked bool) string {
	switch {
	case blocked:
		return storage.RunStatusBlocked
	case errors.Is(err, engine.ErrTickLimit):
		return storage.RunStatusTickLimit
	case err == nil, errors.Is(err, context.Canceled):
		return storage.RunStatusStopped
	}
	return storage.RunStatusFailed
}
