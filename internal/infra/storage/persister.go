package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/events"
	"github.com/MRamiBalles/sand-dropper/internal/platform/metrics"
)

// EventPersister adapts an EventRepository to events.EventPersister and
// records write latency.
type EventPersister struct {
	repo    EventRepository
	metrics *metrics.Collector
	timeout time.Duration
}

// NewEventPersister returns a persister writing through repo. A nil
// collector records into metrics.Get().
func NewEventPersister(repo EventRepository, m *metrics.Collector) *EventPersister {
	if m == nil {
		m = metrics.Get()
	}
	return &EventPersister{repo: repo, metrics: m, timeout: 5 * time.Second}
}

// Append stores one event.
func (p *EventPersister) Append(e events.SimEvent) error {
	stored, err := ToStored(e)
	if err != nil {
		p.metrics.RecordEventWrite(0, err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err = p.repo.Append(ctx, stored)
	p.metrics.RecordEventWrite(time.Since(start), err)
	return err
}

// ToStored converts a log event to its stored form.
func ToStored(e events.SimEvent) (StoredEvent, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return StoredEvent{
		ID:        e.ID,
		RunID:     e.RunID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		Tick:      e.Tick,
		GrainID:   e.GrainID,
		X:         e.X,
		Y:         e.Y,
		Payload:   payload,
	}, nil
}
