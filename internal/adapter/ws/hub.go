// Package ws implements the WebSocket adapter that streams session status and
// diagnostics to connected hosts.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single write to a slow client.
const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotFunc returns the message sent to a client right after it connects.
type SnapshotFunc func() (Message, bool)

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	logger   *slog.Logger
	snapshot SnapshotFunc

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub. snapshot may be nil.
func NewHub(logger *slog.Logger, snapshot SnapshotFunc) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger.With("component", "ws"),
		snapshot: snapshot,
		conns:    make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket and registers the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel}

	if h.snapshot != nil {
		if msg, ok := h.snapshot(); ok {
			h.write(ctx, c, msg)
		}
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.write(ctx, c, msg)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
		if c.ws != nil {
			_ = c.ws.Close(websocket.StatusGoingAway, "shutting down")
		}
	}
}

func (h *Hub) write(ctx context.Context, c *conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket marshal failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("websocket write failed", "error", err)
		go h.remove(c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.logger.Info("websocket disconnected")
	}
}
