// Package broadcast pushes normalized gift records to live consumers: the
// dashboard over WebSocket and, when configured, a Redis pub/sub channel.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// DefaultClientBuffer is how many records may queue per client before it
	// is dropped.
	DefaultClientBuffer = 64
)

// envelope is the WebSocket frame sent to dashboard clients.
type envelope struct {
	Type string       `json:"type"`
	Data gifts.Record `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected dashboard clients and fans records out to them.
type Hub struct {
	upgrader   websocket.Upgrader
	bufferSize int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub accepts WebSocket upgrades from clients without an Origin header,
// from this server's own host, and from each of allowedOrigins. "*" allows
// any origin.
func NewHub(bufferSize int, allowedOrigins ...string) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultClientBuffer
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowed)
			},
		},
		bufferSize: bufferSize,
		clients:    make(map[*client]struct{}),
	}
}

func originAllowed(r *http.Request, allowed map[string]struct{}) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Native clients (the desktop shell, overlay tools) send none.
		return true
	}
	if _, ok := allowed["*"]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.bufferSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	slog.Info("dashboard client connected", "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	go h.readPump(c)
}

// Emit sends rec to every connected client without blocking. Clients that
// cannot keep up are disconnected.
func (h *Hub) Emit(_ context.Context, rec gifts.Record) error {
	msg, err := json.Marshal(envelope{Type: "gift", Data: rec})
	if err != nil {
		return fmt.Errorf("encode broadcast frame: %w", err)
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("dropping slow dashboard client", "buffer", h.bufferSize)
		h.remove(c)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump only services control frames; dashboard clients never send data.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("dashboard client read error", "error", err)
			}
			return
		}
	}
}
