package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sqlagent-backend/internal/messages"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Connection represents a WebSocket connection
type Connection struct {
	// WebSocket connection
	ws *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Connection metadata
	ID     string
	UserID string

	hub     *Hub
	handler *Handler

	// Guards send and closed.
	sendMu sync.Mutex
	closed bool

	// Running queries by message ID.
	queriesMu sync.Mutex
	queries   map[string]context.CancelFunc
}

// NewConnection creates a new connection instance
func NewConnection(ws *websocket.Conn, userID string, hub *Hub, handler *Handler) *Connection {
	return &Connection{
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		ID:      uuid.New().String(),
		UserID:  userID,
		hub:     hub,
		handler: handler,
		queries: make(map[string]context.CancelFunc),
	}
}

// ReadPump reads client messages until the connection fails or closes.
func (c *Connection) ReadPump() {
	defer func() {
		c.cancelQueries()
		c.hub.unregisterConnection(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket: read failed", "connection", c.ID, "error", err)
			}
			return
		}

		var message messages.InboundMessage
		if err := json.Unmarshal(data, &message); err != nil {
			c.sendError("", messages.CodeInvalidMessage, "invalid message: "+err.Error())
			continue
		}

		switch message.Type {
		case messages.TypeQuery:
			c.handler.handleQuery(c, &message)
		case messages.TypeCancel:
			c.cancelQuery(message.ID)
		case messages.TypePing:
			c.handlePing(message.ID)
		default:
			c.sendError(message.ID, messages.CodeUnknownType, "unknown message type: "+message.Type)
		}

		c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handlePing(id string) {
	c.hub.SendToConnection(c, messages.NewWebSocketMessage(messages.TypePong, id, messages.PongData{
		Timestamp: time.Now().UnixMilli(),
	}))
}

func (c *Connection) sendError(id, code, message string) {
	c.hub.SendToConnection(c, messages.NewWebSocketMessage(messages.TypeError, id, messages.ErrorData{
		Error: message,
		Code:  code,
	}))
}

// startQuery registers a running query. It reports false when id is taken
// or the connection already runs limit queries.
func (c *Connection) startQuery(id string, cancel context.CancelFunc, limit int) bool {
	c.queriesMu.Lock()
	defer c.queriesMu.Unlock()

	if _, exists := c.queries[id]; exists || len(c.queries) >= limit {
		return false
	}
	c.queries[id] = cancel
	return true
}

func (c *Connection) finishQuery(id string) {
	c.queriesMu.Lock()
	defer c.queriesMu.Unlock()
	delete(c.queries, id)
}

func (c *Connection) cancelQuery(id string) {
	c.queriesMu.Lock()
	defer c.queriesMu.Unlock()
	if cancel, ok := c.queries[id]; ok {
		cancel()
	}
}

func (c *Connection) cancelQueries() {
	c.queriesMu.Lock()
	defer c.queriesMu.Unlock()
	for _, cancel := range c.queries {
		cancel()
	}
}

func (c *Connection) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) isClosed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.closed
}

// closeSendChannel safely closes the send channel if not already closed
func (c *Connection) closeSendChannel() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
