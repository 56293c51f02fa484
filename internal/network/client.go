package network

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
	// Minimum spacing between snapshot requests from one viewer.
	snapshotCooldown = 250 * time.Millisecond
)

// Request is an incoming command from a viewer.
type Request struct {
	Type string `json:"type"` // "SNAPSHOT"
}

// Client is one websocket viewer.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	lastSnapshot time.Time
}

// NewClient creates a client with a send buffer of size buffer.
func NewClient(hub *Hub, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

// ReadPump pumps requests from the websocket connection until it closes.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.metrics.RecordWSError()
				c.hub.logger.Warnf("WebSocket read error: %v", err)
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Warn("Failed to parse viewer request: " + err.Error())
			c.hub.sendTo(c, Message{Type: MessageError, Payload: "malformed request"})
			continue
		}
		c.handleRequest(req)
	}
}

func (c *Client) handleRequest(req Request) {
	switch req.Type {
	case MessageSnapshot:
		if time.Since(c.lastSnapshot) < snapshotCooldown {
			c.hub.logger.Warn("Snapshot request rate limited")
			return
		}
		c.lastSnapshot = time.Now()
		if c.hub.snapshots == nil {
			c.hub.sendTo(c, Message{Type: MessageError, Payload: "no simulation attached"})
			return
		}
		c.hub.sendSnapshot(c)
	default:
		c.hub.logger.Warn("Unknown viewer request type: " + req.Type)
		c.hub.sendTo(c, Message{Type: MessageError, Payload: "unknown request " + req.Type})
	}
}

// WritePump pumps messages from the hub to the websocket connection. Queued
// messages are coalesced into one frame, one JSON message per line.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			c.hub.metrics.RecordWSMessage(false)

			// Add queued messages to the current websocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
				c.hub.metrics.RecordWSMessage(false)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
