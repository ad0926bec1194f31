package messages

import (
	"encoding/json"
	"time"
)

// Message types exchanged on /ws/query.
const (
	TypeQuery  = "query"
	TypeCancel = "cancel"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeStep   = "step"
	TypeResult = "result"
	TypeError  = "error"
)

// WebSocketMessage is the envelope for every frame sent to a client.
type WebSocketMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
	// ID ties step, result and error frames to the query that caused them.
	ID string `json:"id,omitempty"`
}

// InboundMessage is a frame received from a client. Data is decoded once
// the type is known.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// NewWebSocketMessage creates a message stamped with the current time.
func NewWebSocketMessage(messageType, id string, data any) WebSocketMessage {
	return WebSocketMessage{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		ID:        id,
	}
}

// QueryData is the payload of a query message.
type QueryData struct {
	Question string `json:"question"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// PongData is the payload of a pong message.
type PongData struct {
	Timestamp int64 `json:"timestamp"`
}

// Error codes.
const (
	CodeInvalidMessage = "invalid_message"
	CodeUnknownType    = "unknown_type"
	CodeTooManyQueries = "too_many_queries"
	CodeCanceled       = "canceled"
	CodeRunFailed      = "run_failed"
)
