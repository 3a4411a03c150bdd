// Package ws pushes order book snapshots to websocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans a JSON snapshot out to every connected client, on demand via
// Notify and periodically from Run.
type Hub struct {
	snapshot func() interface{}
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	notify  chan struct{}
}

// NewHub creates a hub that broadcasts whatever snapshot returns
func NewHub(snapshot func() interface{}, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*client]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// ServeHTTP upgrades the connection, sends the current snapshot and keeps
// the client subscribed until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	c := &client{conn: conn}

	data, err := h.encode()
	if err == nil {
		err = c.send(data)
	}
	if err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

func (h *Hub) encode() ([]byte, error) {
	data, err := json.Marshal(h.snapshot())
	if err != nil {
		h.log.Error("failed to marshal snapshot", zap.Error(err))
	}
	return data, err
}

// Broadcast sends the current snapshot to all clients, dropping any that
// fail to receive it.
func (h *Hub) Broadcast() {
	data, err := h.encode()
	if err != nil {
		return
	}

	h.mu.RLock()
	var failed []*client
	for c := range h.clients {
		if err := c.send(data); err != nil {
			h.log.Debug("failed to send snapshot", zap.Error(err))
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range failed {
		h.remove(c)
	}
}

// Notify schedules a broadcast without blocking the caller
func (h *Hub) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Run broadcasts on every Notify and every interval until ctx is done
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.notify:
			h.Broadcast()
		case <-ticker.C:
			h.Broadcast()
		}
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}
