package dispatch

import (
	"context"
	"encoding/json"

	"github.com/chanbridge/chanbridge/internal/bridge/permission"
	"github.com/chanbridge/chanbridge/internal/bridge/sdk"
	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
)

// Message types accepted from the presentation layer.
const (
	TypeSend      = "send"
	TypeInterrupt = "interrupt"
	TypeRestart   = "restart"
	TypeRewind    = "rewind"
	TypeDecision  = "decision"
)

// ChannelHandler routes channel lifecycle messages to the manager.
type ChannelHandler struct {
	manager *sdk.Manager
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(manager *sdk.Manager) *ChannelHandler {
	return &ChannelHandler{manager: manager}
}

// CanHandle implements Handler.
func (h *ChannelHandler) CanHandle(msgType string) bool {
	switch msgType {
	case TypeSend, TypeInterrupt, TypeRestart, TypeRewind:
		return true
	}
	return false
}

type sendPayload struct {
	Prompt  string `json:"prompt"`
	WorkDir string `json:"work_dir,omitempty"`
}

type rewindPayload struct {
	MessageID string `json:"message_id"`
}

// Handle implements Handler.
func (h *ChannelHandler) Handle(ctx context.Context, msg *Message) error {
	switch msg.Type {
	case TypeSend:
		var p sendPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return apperrors.BadRequest("malformed send payload: " + err.Error())
		}
		return h.manager.Send(ctx, msg.ChannelID, p.Prompt, p.WorkDir)

	case TypeInterrupt:
		return h.manager.Interrupt(ctx, msg.ChannelID)

	case TypeRestart:
		return h.manager.Restart(ctx, msg.ChannelID)

	case TypeRewind:
		var p rewindPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return apperrors.BadRequest("malformed rewind payload: " + err.Error())
		}
		_, err := h.manager.Rewind(ctx, msg.ChannelID, p.MessageID)
		return err
	}
	return apperrors.BadRequest("unhandled message type: " + msg.Type)
}

// DecisionHandler resolves pending dialog futures from decision
// messages.
type DecisionHandler struct {
	arbiter *permission.Arbiter
}

// NewDecisionHandler creates a DecisionHandler.
func NewDecisionHandler(arbiter *permission.Arbiter) *DecisionHandler {
	return &DecisionHandler{arbiter: arbiter}
}

// CanHandle implements Handler.
func (h *DecisionHandler) CanHandle(msgType string) bool {
	return msgType == TypeDecision
}

// Handle implements Handler.
func (h *DecisionHandler) Handle(_ context.Context, msg *Message) error {
	var decision permission.DecisionMessage
	if err := json.Unmarshal(msg.Payload, &decision); err != nil {
		return apperrors.BadRequest("malformed decision payload: " + err.Error())
	}
	if decision.CorrelationID == "" {
		return apperrors.BadRequest("correlation_id is required")
	}

	if !h.arbiter.Resolve(permission.CorrelationID(decision.CorrelationID), decision) {
		return apperrors.NotFound("pending request", decision.CorrelationID)
	}
	return nil
}
