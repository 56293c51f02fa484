// Package engine runs the sand simulation: the Simulator steps grains
// against the cave grid, the Ticker paces it against wall time, and the
// Engine publishes every tick to the event log and metrics.
//
// Only the Engine mutates the Simulator, and only under its lock. Readers
// (the websocket hub, snapshots) go through the event log or Snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/events"
	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
	"github.com/MRamiBalles/sand-dropper/internal/platform/metrics"
)

// ErrTickLimit is returned when a run reaches its tick guard before the
// source blocks.
var ErrTickLimit = errors.New("engine: tick limit reached")

// RunInfo is the payload of the RUN_STARTED event.
type RunInfo struct {
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Source  cave.Point `json:"source"`
	Cadence int        `json:"cadence"`
}

// Options configures an Engine.
type Options struct {
	RunID         string
	Metrics       *metrics.Collector // defaults to metrics.Get()
	StepInterval  time.Duration
	FrameInterval time.Duration
	MaxCatchUp    int
	MaxTicks      int64 // 0 means no limit
}

// Engine is the central orchestrator between the Simulator, the event log and
// the ticker.
type Engine struct {
	mu       sync.Mutex
	sim      *Simulator
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
	ticker   *Ticker

	runID    string
	maxTicks int64
	lostSeen bool

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// NewEngine wires sim to the event log and appends RUN_STARTED.
func NewEngine(sim *Simulator, eventLog *events.EventLog, log *logger.Logger, opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = time.Second / 120
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = opts.StepInterval
	}

	e := &Engine{
		sim:      sim,
		eventLog: eventLog,
		logger:   log,
		metrics:  opts.Metrics,
		ticker:   NewTicker(opts.StepInterval, opts.FrameInterval, opts.MaxCatchUp, log),
		runID:    opts.RunID,
		maxTicks: opts.MaxTicks,
		done:     make(chan struct{}),
	}

	grid := sim.grid
	eventLog.Append(events.SimEvent{
		RunID: e.runID,
		Type:  events.EventTypeRunStarted,
		X:     sim.source.X,
		Y:     sim.source.Y,
		Payload: RunInfo{
			Width:   grid.Width(),
			Height:  grid.Height(),
			Source:  sim.source,
			Cadence: sim.Cadence(),
		},
	})
	return e
}

// RunTick advances the simulation by one tick and publishes the result.
// It returns ErrSourceBlocked once the run is over.
func (e *Engine) RunTick() (TickReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runTickLocked()
}

func (e *Engine) runTickLocked() (TickReport, error) {
	if e.maxTicks > 0 && e.sim.Tick() >= e.maxTicks {
		e.finish(ErrTickLimit)
		return TickReport{Tick: e.sim.Tick()}, ErrTickLimit
	}

	start := time.Now()
	report, err := e.sim.Advance()
	if err != nil {
		if !errors.Is(err, ErrSourceBlocked) {
			e.logger.Errorf("Tick %d failed: %v", report.Tick, err)
			e.finish(err)
		}
		return report, err
	}

	e.publish(report)
	e.metrics.RecordTick(time.Since(start))
	stats := e.sim.Stats()
	e.metrics.RecordGrains(len(report.Spawned), len(report.Settled), len(report.Lost), stats.Active)

	if report.SourceBlocked {
		e.metrics.RecordSourceBlocked()
		e.logger.Event(string(events.EventTypeSourceBlocked), e.runID,
			fmt.Sprintf("tick %d: %d grains settled, %d lost", report.Tick, stats.Settled, stats.Lost))
		e.finish(nil)
	}
	return report, nil
}

func (e *Engine) publish(r TickReport) {
	grainEvent := func(t events.EventType, p GrainPosition) {
		e.eventLog.Append(events.SimEvent{
			RunID:   e.runID,
			Type:    t,
			Tick:    r.Tick,
			GrainID: uint64(p.ID),
			X:       p.X,
			Y:       p.Y,
		})
	}

	for _, p := range r.Spawned {
		grainEvent(events.EventTypeGrainSpawned, p)
	}
	for _, p := range r.Settled {
		grainEvent(events.EventTypeGrainSettled, p)
	}
	for _, p := range r.Lost {
		grainEvent(events.EventTypeGrainLost, p)
		if !e.lostSeen {
			e.lostSeen = true
			e.logger.Infof("First grain lost at tick %d after %d settled", r.Tick, e.sim.Stats().Settled)
		}
	}
	for _, p := range r.Merged {
		grainEvent(events.EventTypeGrainMerged, p)
	}
	if r.SourceBlocked {
		src := e.sim.Source()
		e.eventLog.Append(events.SimEvent{
			RunID: e.runID,
			Type:  events.EventTypeSourceBlocked,
			Tick:  r.Tick,
			X:     src.X,
			Y:     src.Y,
		})
	}

	e.eventLog.Append(events.SimEvent{
		RunID:   e.runID,
		Type:    events.EventTypeTick,
		Tick:    r.Tick,
		Payload: r,
	})
}

func (e *Engine) finish(err error) {
	e.doneOnce.Do(func() {
		e.err = err
		close(e.done)
	})
}

// Start runs the simulation on the ticker in a background goroutine. Done is
// closed when the source blocks, the tick limit is hit, a tick fails, or ctx
// is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting sand engine...")

	go func() {
		e.ticker.Start(ctx, func(steps, skipped int) bool {
			if skipped > 0 {
				e.metrics.RecordSkipped(skipped)
			}
			e.mu.Lock()
			defer e.mu.Unlock()
			for i := 0; i < steps; i++ {
				if _, err := e.runTickLocked(); err != nil {
					return true
				}
			}
			return false
		})
		if ctx.Err() != nil {
			e.finish(ctx.Err())
		} else {
			e.finish(nil)
		}
	}()
}

// Stop halts a started engine.
func (e *Engine) Stop() {
	e.ticker.Stop()
}

// Done is closed when the run ends.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err reports why the run ended: nil when the source blocked or Stop was
// called. Only meaningful after Done is closed.
func (e *Engine) Err() error {
	<-e.done
	return e.err
}

// RunHeadless steps as fast as possible until the source blocks.
func (e *Engine) RunHeadless(ctx context.Context) (Stats, error) {
	return e.RunUntil(ctx, nil)
}

// RunUntil steps as fast as possible until the source blocks, the tick limit
// is reached, ctx is cancelled, or stop returns true for a report.
func (e *Engine) RunUntil(ctx context.Context, stop func(TickReport) bool) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			e.finish(err)
			return e.sim.Stats(), err
		}
		report, err := e.runTickLocked()
		if errors.Is(err, ErrSourceBlocked) {
			return e.sim.Stats(), nil
		}
		if err != nil {
			return e.sim.Stats(), err
		}
		if report.SourceBlocked {
			return e.sim.Stats(), nil
		}
		if stop != nil && stop(report) {
			return e.sim.Stats(), nil
		}
	}
}

// Snapshot returns the grid and grains in flight.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Snapshot()
}

// Stats returns running totals.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Stats()
}

// Grid returns a copy of the current grid.
func (e *Engine) Grid() *cave.Grid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Grid()
}

// RunID identifies this run in events and storage.
func (e *Engine) RunID() string { return e.runID }

// EventLog exposes the log the engine appends to.
func (e *Engine) EventLog() *events.EventLog { return e.eventLog }
