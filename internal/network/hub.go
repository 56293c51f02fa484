// Package network streams the simulation to websocket viewers and serves the
// replay API over HTTP.
package network

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/sand-dropper/internal/engine"
	"github.com/MRamiBalles/sand-dropper/internal/events"
	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
	"github.com/MRamiBalles/sand-dropper/internal/platform/metrics"
)

// Message types sent to viewers.
const (
	MessageSnapshot = "SNAPSHOT" // Full grid, sent on connect and on request
	MessageTick     = "TICK"     // One engine.TickReport
	MessageError    = "ERROR"
)

// Message is the envelope of every websocket frame line.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// SnapshotProvider supplies the full simulation state for late joiners.
type SnapshotProvider interface {
	Snapshot() engine.Snapshot
}

// HubOptions configures a Hub.
type HubOptions struct {
	SendBuffer   int                // per client, defaults to 256
	PollInterval time.Duration      // event log poll period, defaults to 50ms
	Metrics      *metrics.Collector // defaults to metrics.Get()
}

// Hub maintains the set of active viewers and broadcasts tick reports to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex

	snapshots SnapshotProvider
	opts      HubOptions
	logger    *logger.Logger
	metrics   *metrics.Collector
	upgrader  websocket.Upgrader
}

// NewHub initializes a new WebSocket Hub.
func NewHub(snapshots SnapshotProvider, log *logger.Logger, opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		snapshots:  snapshots,
		opts:       opts,
		logger:     log,
		metrics:    opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWSConnection(-1)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub shutting down.")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.metrics.RecordWSConnection(1)
			// Queued before any broadcast can reach the client, so every
			// report it receives is either older than the snapshot or the
			// next one after it.
			h.queueSnapshotLocked(client)
			h.mu.Unlock()
			h.logger.Info("New WebSocket viewer connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWSConnection(-1)
				h.logger.Info("WebSocket viewer disconnected")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Too slow to keep up; it can reconnect and resync from a snapshot.
					close(client.send)
					delete(h.clients, client)
					h.metrics.RecordWSConnection(-1)
					h.metrics.RecordWSError()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast serializes msg and sends it to every connected viewer. It returns
// without sending once the hub has stopped.
func (h *Hub) Broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to serialize %s message for WebSocket broadcast: %v", msg.Type, err)
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// sendTo queues msg for a single registered client.
func (h *Hub) sendTo(c *Client, msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to serialize %s message: %v", msg.Type, err)
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendSnapshot queues a fresh snapshot for a registered client.
func (h *Hub) sendSnapshot(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return false
	}
	return h.queueSnapshotLocked(c)
}

// queueSnapshotLocked takes the snapshot while h.mu blocks broadcasts, which
// keeps it ordered against the tick reports already queued. Callers hold h.mu.
func (h *Hub) queueSnapshotLocked(c *Client) bool {
	if h.snapshots == nil {
		return false
	}
	payload, err := json.Marshal(Message{Type: MessageSnapshot, Payload: h.snapshots.Snapshot()})
	if err != nil {
		h.logger.Errorf("Failed to serialize snapshot: %v", err)
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of registered viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// StartEventPoller spawns a goroutine that follows the event log and pushes
// every TICK report to the viewers. The poller reads by sequence number, so
// events dropped by log retention are skipped rather than replayed twice.
func (h *Hub) StartEventPoller(ctx context.Context, eventLog *events.EventLog) {
	go func() {
		pollInterval := time.NewTicker(h.opts.PollInterval)
		defer pollInterval.Stop()

		lastSeq := eventLog.LastSeq()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-pollInterval.C:
				for _, event := range eventLog.Since(lastSeq) {
					lastSeq = event.Seq
					if event.Type != events.EventTypeTick {
						continue
					}
					h.Broadcast(Message{Type: MessageTick, Payload: event.Payload})
				}
			}
		}
	}()
}

// ServeWS upgrades the request, registers the viewer (which queues the
// current snapshot) and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordWSError()
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(h, conn, h.opts.SendBuffer)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}
