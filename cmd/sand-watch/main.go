// Package main - sand-watch
// Terminal viewer: connects to a sand-server, mirrors the cave from the
// snapshot plus tick reports and prints ASCII frames.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/sand-dropper/internal/network"
)

var (
	serverURL = flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	every     = flag.Int("every", 50, "print a frame every N tick reports")
	margin    = flag.Int("margin", 2, "columns shown beside the sand")
	resync    = flag.Duration("resync", 0, "request a fresh snapshot at this interval (0 disables)")
	exitOnEnd = flag.Bool("exit", true, "exit once the source is blocked")
)

func main() {
	flag.Parse()

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatalf("[SAND-WATCH] Bad URL: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatalf("[SAND-WATCH] Connection failed: %v", err)
	}
	defer conn.Close()
	log.Printf("[SAND-WATCH] Connected to %s", u.String())

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	req := &requester{conn: conn}
	if *resync > 0 {
		go req.every(ctx, *resync)
	}

	if err := watch(conn, req); err != nil && ctx.Err() == nil {
		log.Printf("[SAND-WATCH] %v", err)
		os.Exit(1)
	}
}

// watch reads until the connection closes or the run ends. Only this
// goroutine reads from conn.
func watch(conn *websocket.Conn, req *requester) error {
	var (
		mirror  network.Mirror
		reports int
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			typ, err := mirror.Handle(line)
			if errors.Is(err, network.ErrTickGap) {
				if req.snapshot() {
					log.Printf("[SAND-WATCH] %v, resyncing", err)
				}
				continue
			}
			if err != nil {
				log.Printf("[SAND-WATCH] %s: %v", typ, err)
				continue
			}
			switch typ {
			case network.MessageSnapshot:
				frame(&mirror, "snapshot")
				if mirror.Blocked() && *exitOnEnd {
					return nil
				}
			case network.MessageTick:
				reports++
				if mirror.Blocked() {
					frame(&mirror, "source blocked")
					if *exitOnEnd {
						return nil
					}
				} else if *every > 0 && reports%*every == 0 {
					frame(&mirror, "")
				}
			}
		}
	}
}

func frame(m *network.Mirror, note string) {
	st := m.Stats()
	fmt.Printf("\n-- tick %d | spawned %d settled %d lost %d falling %d", st.Ticks, st.Spawned, st.Settled, st.Lost, st.Active)
	if note != "" {
		fmt.Printf(" | %s", note)
	}
	fmt.Println(" --")
	fmt.Print(m.Render(*margin))
}

// requester serializes snapshot requests; gorilla allows one concurrent writer.
type requester struct {
	mu   sync.Mutex
	conn *websocket.Conn
	last time.Time
}

// snapshot asks for a fresh snapshot unless one was requested recently. The
// server rate limits requests, so asking more often would be ignored anyway.
func (r *requester) snapshot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.last) < 500*time.Millisecond {
		return false
	}
	r.last = time.Now()
	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return r.conn.WriteJSON(network.Request{Type: network.MessageSnapshot}) == nil
}

func (r *requester) every(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.snapshot()
		}
	}
}
