package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sqlagent-backend/internal/agent"
	"sqlagent-backend/internal/auth"
	"sqlagent-backend/internal/messages"
)

// DefaultMaxActiveQueries bounds concurrent queries on one connection.
const DefaultMaxActiveQueries = 4

// Runner answers questions and reports step events through the context
// observer.
type Runner interface {
	Run(ctx context.Context, question string) (*agent.Result, error)
}

// Authenticator resolves a session token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.User, error)
}

type HandlerConfig struct {
	Logger *slog.Logger
	Hub    *Hub
	Runner Runner

	// Sessions authenticates clients. When nil every client is accepted.
	Sessions Authenticator

	MaxActiveQueries int
}

// Handler upgrades /ws/query requests and runs the queries they send.
type Handler struct {
	log      *slog.Logger
	hub      *Hub
	runner   Runner
	sessions Authenticator
	maxQuery int
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxActiveQueries <= 0 {
		cfg.MaxActiveQueries = DefaultMaxActiveQueries
	}
	return &Handler{
		log:      cfg.Logger,
		hub:      cfg.Hub,
		runner:   cfg.Runner,
		sessions: cfg.Sessions,
		maxQuery: cfg.MaxActiveQueries,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}, nil
}

// HandleWebSocket handles WebSocket upgrade and connection management
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := ""
	if h.sessions != nil {
		user, err := h.sessions.Authenticate(c.Request.Context(), requestToken(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}
		userID = user.ID
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket: upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, userID, h.hub, h)
	if !h.hub.registerConnection(conn) {
		ws.Close()
		return
	}

	go conn.WritePump()
	go conn.ReadPump()

	h.log.Info("websocket: connection established", "connection", conn.ID, "user", userID)
}

// requestToken reads the session token from the token query parameter, a
// Bearer header or the session cookie, in that order.
func requestToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	token, _ := c.Cookie("session_token")
	return token
}

// handleQuery starts an agent run for a query message. Step events stream
// back as they happen, followed by one result or error frame.
func (h *Handler) handleQuery(conn *Connection, message *messages.InboundMessage) {
	var data messages.QueryData
	if err := json.Unmarshal(message.Data, &data); err != nil || strings.TrimSpace(data.Question) == "" {
		conn.sendError(message.ID, messages.CodeInvalidMessage, "question is required")
		return
	}

	id := message.ID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !conn.startQuery(id, cancel, h.maxQuery) {
		cancel()
		conn.sendError(id, messages.CodeTooManyQueries, "too many active queries")
		return
	}

	go func() {
		defer func() {
			cancel()
			conn.finishQuery(id)
		}()

		ctx = agent.WithObserver(ctx, func(e agent.Event) {
			h.hub.SendToConnection(conn, messages.NewWebSocketMessage(messages.TypeStep, id, e))
		})

		res, err := h.runner.Run(ctx, data.Question)
		switch {
		case errors.Is(err, context.Canceled):
			conn.sendError(id, messages.CodeCanceled, "query canceled")
		case err != nil:
			h.log.Error("websocket: query failed", "connection", conn.ID, "id", id, "error", err)
			conn.sendError(id, messages.CodeRunFailed, err.Error())
		default:
			h.hub.SendToConnection(conn, messages.NewWebSocketMessage(messages.TypeResult, id, res))
		}
	}()
}
