package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/webhook"
)

const (
	wsWriteWait  = 500 * time.Millisecond
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10

	// EventLockChanged is broadcast after every successful mutation.
	EventLockChanged = "lock_changed"
	eventHello       = "hello"
)

// Message is the envelope sent to event stream subscribers.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LockChange describes one mutation of a scope's lock table.
type LockChange struct {
	Origin   string            `json:"origin"`
	Branch   string            `json:"branch"`
	FilePath string            `json:"filePath"`
	Holder   string            `json:"holder,omitempty"`
	Action   models.LockAction `json:"action"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are editors and agents, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn  *websocket.Conn
	scope models.Scope
	mu    sync.Mutex // serializes writes
}

func (c *wsClient) write(msgType int, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if msgType == websocket.PingMessage {
		return c.conn.WriteMessage(websocket.PingMessage, nil)
	}
	return c.conn.WriteJSON(v)
}

// Hub tracks event stream subscribers per scope.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

// Register adds a client to the hub
func (h *Hub) Register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends a message to every client subscribed to scope. Clients
// that cannot keep up are dropped.
func (h *Hub) Broadcast(scope models.Scope, msgType string, data any) {
	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.scope == scope {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	msg := Message{Type: msgType, Data: data}
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			slog.Debug("drop event client", "scope", scope.String(), "err", err)
			_ = c.conn.Close()
			h.Unregister(c)
		}
	}
}

// CloseAll disconnects every client. Hijacked connections are not closed by
// http.Server.Shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	for c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}

// handleEvents upgrades to a websocket and streams lock changes for one scope.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logFor(r.Context()).Warn("websocket upgrade", "err", err)
		return
	}

	c := &wsClient{conn: conn, scope: scope}
	s.hub.Register(c)
	defer func() {
		s.hub.Unregister(c)
		conn.Close()
	}()

	if err := c.write(websocket.TextMessage, Message{Type: eventHello, Data: scope}); err != nil {
		return
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Keep alive / read loop; clients send nothing meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastChange(scope models.Scope, path, holder string, action models.LockAction) {
	s.metrics.RecordBroadcast()
	s.hub.Broadcast(scope, EventLockChanged, LockChange{
		Origin:   scope.Origin,
		Branch:   scope.Branch,
		FilePath: path,
		Holder:   holder,
		Action:   action,
	})
	if s.webhook != nil {
		s.webhook.Enqueue(webhook.Event{Scope: scope, Path: path, Holder: holder, Action: action})
	}
}
