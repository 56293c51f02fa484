// Package metrics collects runtime counters for the simulation server and
// exposes them as JSON and in the Prometheus text format.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers performance and simulation metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	StepsSkipped   int64 // dropped by the catch-up clamp
	LastTickTime   time.Time

	// Grain metrics
	GrainsSpawned int64
	GrainsSettled int64
	GrainsLost    int64
	GrainsActive  int64
	SourceBlocked int64 // 0 or 1

	// Event metrics
	EventsWritten    int64
	EventWriteLatSum int64
	EventWriteLatMax int64
	EventWriteErrors int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64

	StartTime time.Time
	mu        sync.RWMutex
}

var collector = NewCollector()

// NewCollector returns an empty collector. Tests use their own; the server
// uses Get.
func NewCollector() *Collector {
	return &Collector{StartTime: time.Now()}
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// RecordTick records a completed simulation tick.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))
	storeMax(&c.TickLatencyMax, int64(latency))

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordSkipped records simulation steps dropped because the ticker fell behind.
func (c *Collector) RecordSkipped(n int) {
	atomic.AddInt64(&c.StepsSkipped, int64(n))
}

// RecordGrains adds one tick's grain deltas and sets the active gauge.
func (c *Collector) RecordGrains(spawned, settled, lost, active int) {
	atomic.AddInt64(&c.GrainsSpawned, int64(spawned))
	atomic.AddInt64(&c.GrainsSettled, int64(settled))
	atomic.AddInt64(&c.GrainsLost, int64(lost))
	atomic.StoreInt64(&c.GrainsActive, int64(active))
}

// RecordSourceBlocked marks the run as finished.
func (c *Collector) RecordSourceBlocked() {
	atomic.StoreInt64(&c.SourceBlocked, 1)
}

// RecordEventWrite records an event write to the database.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.EventsWritten, 1)
	atomic.AddInt64(&c.EventWriteLatSum, int64(latency))
	storeMax(&c.EventWriteLatMax, int64(latency))

	if err != nil {
		atomic.AddInt64(&c.EventWriteErrors, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	lastTick := c.LastTickTime
	c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	eventsWritten := atomic.LoadInt64(&c.EventsWritten)

	var tickAvg, eventAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if eventsWritten > 0 {
		eventAvg = float64(atomic.LoadInt64(&c.EventWriteLatSum)) / float64(eventsWritten) / 1e6
	}

	last := ""
	if !lastTick.IsZero() {
		last = lastTick.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"steps_skipped":  atomic.LoadInt64(&c.StepsSkipped),
			"last_tick":      last,
		},

		"grains": map[string]interface{}{
			"spawned":        atomic.LoadInt64(&c.GrainsSpawned),
			"settled":        atomic.LoadInt64(&c.GrainsSettled),
			"lost":           atomic.LoadInt64(&c.GrainsLost),
			"active":         atomic.LoadInt64(&c.GrainsActive),
			"source_blocked": atomic.LoadInt64(&c.SourceBlocked) == 1,
		},

		"events": map[string]interface{}{
			"written":          eventsWritten,
			"avg_write_lat_ms": eventAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.EventWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.EventWriteErrors),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// Handler serves the global collector as JSON.
func Handler() http.HandlerFunc {
	return collector.Handler()
}

// PrometheusHandler returns metrics in Prometheus format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n\n", name, v)
		}
		gauge := func(name, help string, v float64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s gauge\n", name)
			fmt.Fprintf(w, "%s %g\n\n", name, v)
		}

		counter("sand_tick_count", "Total simulation ticks", atomic.LoadInt64(&c.TickCount))
		gauge("sand_tick_latency_max_ms", "Maximum tick latency", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)
		counter("sand_steps_skipped", "Steps dropped by the catch-up clamp", atomic.LoadInt64(&c.StepsSkipped))

		counter("sand_grains_spawned", "Grains spawned at the source", atomic.LoadInt64(&c.GrainsSpawned))
		counter("sand_grains_settled", "Grains that came to rest", atomic.LoadInt64(&c.GrainsSettled))
		counter("sand_grains_lost", "Grains that fell out of the cave", atomic.LoadInt64(&c.GrainsLost))
		gauge("sand_grains_active", "Grains currently falling", float64(atomic.LoadInt64(&c.GrainsActive)))
		gauge("sand_source_blocked", "1 once sand reaches the source", float64(atomic.LoadInt64(&c.SourceBlocked)))

		counter("sand_events_written", "Total events written", atomic.LoadInt64(&c.EventsWritten))
		counter("sand_event_write_errors", "Total event write errors", atomic.LoadInt64(&c.EventWriteErrors))

		gauge("sand_ws_connections", "Active WebSocket connections", float64(atomic.LoadInt64(&c.WSConnectionsActive)))
		fmt.Fprintf(w, "# HELP sand_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE sand_ws_messages_total counter\n")
		fmt.Fprintf(w, "sand_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "sand_ws_messages_total{direction=\"out\"} %d\n", atomic.LoadInt64(&c.WSMessagesOut))
	}
}

// PrometheusHandler serves the global collector in Prometheus format.
func PrometheusHandler() http.HandlerFunc {
	return collector.PrometheusHandler()
}
