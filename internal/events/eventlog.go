// Package events provides the append-only log of simulation events.
// The engine only ever appends; the websocket hub, the metrics endpoint and
// the SQLite store read from it.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a simulation event.
type EventType string

const (
	EventTypeRunStarted    EventType = "RUN_STARTED"
	EventTypeGrainSpawned  EventType = "GRAIN_SPAWNED"
	EventTypeGrainSettled  EventType = "GRAIN_SETTLED"
	EventTypeGrainLost     EventType = "GRAIN_LOST"   // Fell into the void
	EventTypeGrainMerged   EventType = "GRAIN_MERGED" // Landed on a cell that was already sand
	EventTypeSourceBlocked EventType = "SOURCE_BLOCKED"
	EventTypeTick          EventType = "TICK" // Carries the full tick report, never persisted
)

// Persistent reports whether events of this type are written to durable storage.
func (t EventType) Persistent() bool {
	return t != EventTypeTick
}

// SimEvent is an immutable record of something that happened during a run.
type SimEvent struct {
	Seq       int64     `json:"seq"` // Assigned by the log, strictly increasing
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Tick      int64     `json:"tick"`
	GrainID   uint64    `json:"grain_id,omitempty"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Payload   any       `json:"payload,omitempty"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event SimEvent) error
}

// Option configures an EventLog.
type Option func(*EventLog)

// WithPersister writes persistent events through to p on a single background
// writer, so stored order matches append order.
func WithPersister(p EventPersister, buffer int) Option {
	return func(el *EventLog) {
		if buffer <= 0 {
			buffer = 1
		}
		el.persister = p
		el.queue = make(chan SimEvent, buffer)
	}
}

// WithRetention keeps at most n events in memory; older ones are dropped.
func WithRetention(n int) Option {
	return func(el *EventLog) {
		el.retention = n
	}
}

// WithErrorHandler is called from the writer goroutine when persisting fails.
func WithErrorHandler(fn func(SimEvent, error)) Option {
	return func(el *EventLog) {
		el.onError = fn
	}
}

// EventLog is the in-memory append-only log of simulation events.
type EventLog struct {
	writeMu   sync.Mutex // serializes Append and guards queue
	mu        sync.RWMutex
	events    []SimEvent
	nextSeq   int64
	retention int

	persister EventPersister
	queue     chan SimEvent
	onError   func(SimEvent, error)
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEventLog creates a new event log.
func NewEventLog(opts ...Option) *EventLog {
	el := &EventLog{
		events:  make([]SimEvent, 0, 256),
		nextSeq: 1,
	}
	for _, opt := range opts {
		opt(el)
	}
	if el.persister != nil {
		el.wg.Add(1)
		go el.writeLoop(el.queue)
	}
	return el
}

func (el *EventLog) writeLoop(queue <-chan SimEvent) {
	defer el.wg.Done()
	for e := range queue {
		if err := el.persister.Append(e); err != nil && el.onError != nil {
			el.onError(e, err)
		}
	}
}

// Append adds an event, filling in Seq, ID and Timestamp when missing, and
// returns the stored copy. Appends are serialized so persisted order follows Seq.
func (el *EventLog) Append(event SimEvent) SimEvent {
	el.writeMu.Lock()
	defer el.writeMu.Unlock()

	el.mu.Lock()
	event.Seq = el.nextSeq
	el.nextSeq++
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	el.events = append(el.events, event)
	if el.retention > 0 && len(el.events) > el.retention {
		drop := len(el.events) - el.retention
		el.events = append(el.events[:0:0], el.events[drop:]...)
	}
	el.mu.Unlock()

	// Readers are not blocked while the store catches up.
	if el.queue != nil && event.Type.Persistent() {
		el.queue <- event
	}
	return event
}

// Since returns events with Seq greater than seq, oldest first.
func (el *EventLog) Since(seq int64) []SimEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	i := len(el.events)
	for i > 0 && el.events[i-1].Seq > seq {
		i--
	}
	out := make([]SimEvent, len(el.events)-i)
	copy(out, el.events[i:])
	return out
}

// LastSeq returns the sequence number of the newest event, or 0.
func (el *EventLog) LastSeq() int64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.nextSeq - 1
}

// FirstSeq returns the sequence number of the oldest retained event, or 0
// when the log is empty. Anything above 1 means retention dropped events.
func (el *EventLog) FirstSeq() int64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if len(el.events) == 0 {
		return 0
	}
	return el.events[0].Seq
}

// ByType returns all retained events of the given type.
func (el *EventLog) ByType(t EventType) []SimEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []SimEvent
	for _, e := range el.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

// ByGrain returns the retained history of one grain.
func (el *EventLog) ByGrain(id uint64) []SimEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []SimEvent
	for _, e := range el.events {
		if e.GrainID == id {
			result = append(result, e)
		}
	}
	return result
}

// Replay returns a copy of every retained event.
func (el *EventLog) Replay() []SimEvent {
	return el.Since(0)
}

// Close stops persisting and waits for the writer to drain. Events appended
// afterwards stay in memory only.
func (el *EventLog) Close() {
	el.closeOnce.Do(func() {
		el.writeMu.Lock()
		queue := el.queue
		el.queue = nil
		el.writeMu.Unlock()
		if queue != nil {
			close(queue)
			el.wg.Wait()
		}
	})
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
