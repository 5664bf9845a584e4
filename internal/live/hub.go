// Package live pushes session events to open Home tabs over websockets.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/platform/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 4
)

// TypeSignedOut tells a tab its identity was signed out elsewhere.
const TypeSignedOut = "session.signed_out"

// Message is the JSON frame sent to clients.
type Message struct {
	Type      string    `json:"type"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connections per identity.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	now     func() time.Time
}

type client struct {
	conn *websocket.Conn
	uid  string
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		now:     time.Now,
	}
}

// Serve runs conn for uid until the peer goes away or ctx ends. It blocks and
// closes conn on return.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, uid string) {
	c := &client{conn: conn, uid: uid, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.readPump(ctx)
}

// SignedOut notifies every connection of uid that it must go to location.
// It returns the number of connections notified.
func (h *Hub) SignedOut(ctx context.Context, uid, location string) int {
	payload, err := json.Marshal(Message{Type: TypeSignedOut, Location: location, Timestamp: h.now().UTC()})
	if err != nil {
		observability.FromContext(ctx).Error("live: marshal message", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[uid]))
	for c := range h.clients[uid] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		select {
		case <-c.done:
		case c.send <- payload:
			sent++
		default:
			observability.FromContext(ctx).Warn("live: dropping slow client", zap.String("uid", uid))
			h.unregister(c)
		}
	}
	return sent
}

// Connections returns the number of open connections for uid.
func (h *Hub) Connections(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[uid])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.uid] == nil {
		h.clients[c.uid] = make(map[*client]struct{})
	}
	h.clients[c.uid][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if clients, ok := h.clients[c.uid]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.clients, c.uid)
			}
		}
	}
	h.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// readPump only drains control frames; clients never send data.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.FromContext(ctx).Debug("live: connection closed", zap.String("uid", c.uid), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
