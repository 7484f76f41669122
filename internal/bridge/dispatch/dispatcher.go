// Package dispatch routes presentation-layer messages to their
// handlers. It is the composition point between the websocket gateway
// and the bridge subsystems.
package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
	"github.com/chanbridge/chanbridge/internal/common/logger"
)

// Message is one inbound presentation-layer message.
type Message struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channel_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Handler processes messages of the types it claims.
type Handler interface {
	CanHandle(msgType string) bool
	Handle(ctx context.Context, msg *Message) error
}

// Dispatcher walks its handler chain and delivers each message to the
// first handler that claims it.
type Dispatcher struct {
	handlers []Handler
	logger   *logger.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		logger: log.WithFields(zap.String("component", "dispatcher")),
	}
}

// Register appends a handler to the chain. Order matters: the first
// claiming handler wins.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch decodes a raw message and routes it. Unknown message types
// are logged and reported, never fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return apperrors.BadRequest("malformed message: " + err.Error())
	}
	if msg.Type == "" {
		return apperrors.BadRequest("message type is required")
	}

	for _, h := range d.handlers {
		if h.CanHandle(msg.Type) {
			return h.Handle(ctx, &msg)
		}
	}

	d.logger.Warn("No handler for message type",
		zap.String("type", msg.Type),
		zap.String("channel_id", msg.ChannelID))
	return apperrors.BadRequest("unknown message type: " + msg.Type)
}
