// Package monitor exposes a live view of pool health over a WebSocket: a
// connected operator dashboard receives a Snapshot of the pool's current
// workers on every Emitter tick, without polling on its own side.
// It follows a standard hub/client registration pattern, adapted from
// chat-style broadcast messages to periodic pool telemetry snapshots.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Snapshot is one point-in-time view of pool health, broadcast to every
// connected client.
type Snapshot struct {
	Time    time.Time      `json:"time"`
	Workers []WorkerStatus `json:"workers"`
}

// WorkerStatus describes a single worker process.
type WorkerStatus struct {
	ID           uint64 `json:"id"`
	Load         int32  `json:"load"`
	RequestCount uint64 `json:"requestCount"`
	Quarantined  bool   `json:"quarantined"`
}

type client interface {
	sendChan() chan []byte
	close()
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChan() chan []byte { return c.send }
func (c *wsClient) close()                { _ = c.conn.Close(websocket.StatusNormalClosure, "") }

// Hub fans a stream of Snapshots out to every connected dashboard client.
type Hub struct {
	allowedOrigins map[string]bool

	clients    map[client]bool
	broadcast  chan Snapshot
	register   chan client
	unregister chan client
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewHub builds a Hub. allowedOrigins is the set of Origin header values
// accepted on upgrade; an empty set accepts any origin (same-host
// deployments behind a reverse proxy that already strips Origin).
func NewHub(allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	set := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		set[o] = true
	}
	return &Hub{
		allowedOrigins: set,
		clients:        make(map[client]bool),
		broadcast:      make(chan Snapshot, 64),
		register:       make(chan client),
		unregister:     make(chan client),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.sendChan())
			}
			h.mu.Unlock()

		case snap := <-h.broadcast:
			data, err := json.Marshal(snap)
			if err != nil {
				log.Printf("monitor: failed to marshal snapshot: %v", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.sendChan() <- data:
				default:
					close(c.sendChan())
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop tears down the hub and disconnects every client.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	for c := range h.clients {
		close(c.sendChan())
		c.close()
	}
	h.clients = make(map[client]bool)
	h.mu.Unlock()
}

// Broadcast publishes snap to every connected client. A full broadcast queue
// drops the snapshot; the next periodic tick will supersede it anyway.
func (h *Hub) Broadcast(snap Snapshot) {
	select {
	case h.broadcast <- snap:
	default:
		log.Println("monitor: broadcast queue full, dropping snapshot")
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams Snapshots to it
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(h.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" && !h.allowedOrigins[origin] {
			http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("monitor: upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *wsClient) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
