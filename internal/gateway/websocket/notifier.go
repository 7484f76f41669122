package websocket

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/bridge/permission"
	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
)

// Dialog instruction types pushed to presentation clients.
const (
	framePermissionRequest = "permission_request"
	frameQuestionRequest   = "question_request"
	framePlanRequest       = "plan_request"
)

// permissionFrame is the outbound instruction for a tool permission
// dialog.
type permissionFrame struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	ChannelID     string          `json:"channel_id"`
	ToolName      string          `json:"tool_name"`
	Inputs        json.RawMessage `json:"inputs,omitempty"`
}

type questionFrame struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	ChannelID     string          `json:"channel_id"`
	Questions     json.RawMessage `json:"questions"`
}

type planFrame struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	ChannelID     string          `json:"channel_id"`
	Plan          string          `json:"plan"`
	Suggestions   json.RawMessage `json:"suggestions,omitempty"`
}

// ShowPermissionDialog implements permission.Notifier.
func (h *Hub) ShowPermissionDialog(id permission.CorrelationID, req permission.PermissionRequest) error {
	return h.pushDialog(req.ChannelID, permissionFrame{
		Type:          framePermissionRequest,
		CorrelationID: string(id),
		ChannelID:     req.ChannelID,
		ToolName:      req.ToolName,
		Inputs:        req.Input,
	})
}

// ShowQuestionDialog implements permission.Notifier.
func (h *Hub) ShowQuestionDialog(id permission.CorrelationID, req permission.QuestionRequest) error {
	return h.pushDialog(req.ChannelID, questionFrame{
		Type:          frameQuestionRequest,
		CorrelationID: string(id),
		ChannelID:     req.ChannelID,
		Questions:     req.Questions,
	})
}

// ShowPlanDialog implements permission.Notifier.
func (h *Hub) ShowPlanDialog(id permission.CorrelationID, req permission.PlanRequest) error {
	return h.pushDialog(req.ChannelID, planFrame{
		Type:          framePlanRequest,
		CorrelationID: string(id),
		ChannelID:     req.ChannelID,
		Plan:          req.Plan,
		Suggestions:   req.Suggestions,
	})
}

func (h *Hub) pushDialog(channelID string, frame interface{}) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return apperrors.InternalError("failed to encode dialog frame", err)
	}
	h.BroadcastToChannel(channelID, payload)
	h.logger.Debug("Dialog pushed", zap.String("channel_id", channelID))
	return nil
}
