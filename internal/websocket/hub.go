package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"sqlagent-backend/internal/messages"
	"sqlagent-backend/internal/metrics"
)

// WebSocketMessage represents a message sent over WebSocket (alias for shared package)
type WebSocketMessage = messages.WebSocketMessage

// Hub maintains the set of active connections.
type Hub struct {
	log *slog.Logger

	// Registered connections
	connections map[*Connection]bool

	// Register requests from the connections
	register chan *Connection

	// Unregister requests from connections
	unregister chan *Connection

	// Closed when Run returns
	done chan struct{}

	mutex sync.RWMutex
}

// NewHub creates a new hub instance
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:         log,
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop. When ctx is done every connection is
// closed and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for conn := range h.connections {
				h.remove(conn)
			}
			h.mutex.Unlock()
			return

		case conn := <-h.register:
			h.mutex.Lock()
			h.connections[conn] = true
			h.mutex.Unlock()
			metrics.WebSocketConnections.Inc()
			h.log.Debug("websocket: connection registered", "connection", conn.ID, "user", conn.UserID)

		case conn := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.connections[conn]; ok {
				h.remove(conn)
				h.log.Debug("websocket: connection unregistered", "connection", conn.ID)
			}
			h.mutex.Unlock()
		}
	}
}

// remove must be called with the mutex held.
func (h *Hub) remove(conn *Connection) {
	delete(h.connections, conn)
	conn.cancelQueries()
	conn.closeSendChannel()
	metrics.WebSocketConnections.Dec()
}

func (h *Hub) registerConnection(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterConnection(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// SendToConnection sends a message to a specific connection. A connection
// whose send buffer is full is dropped.
func (h *Hub) SendToConnection(conn *Connection, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("websocket: failed to marshal message", "error", err)
		return
	}

	if conn.trySend(data) {
		return
	}
	if conn.isClosed() {
		return
	}
	h.log.Warn("websocket: send buffer full, dropping connection", "connection", conn.ID)
	h.unregisterConnection(conn)
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
