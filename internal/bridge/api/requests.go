package api

import (
	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

// SendRequest starts a streaming command on a channel.
type SendRequest struct {
	Prompt  string `json:"prompt" binding:"required"`
	WorkDir string `json:"work_dir,omitempty"`
}

// RewindRequest rewinds a channel's conversation to a message.
type RewindRequest struct {
	MessageID string `json:"message_id" binding:"required"`
}

// DecisionRequest resolves a pending dialog by correlation id.
type DecisionRequest struct {
	CorrelationID string `json:"correlation_id" binding:"required"`

	Allow         bool   `json:"allow,omitempty"`
	Remember      bool   `json:"remember,omitempty"`
	RejectMessage string `json:"reject_message,omitempty"`

	Answers map[string]string `json:"answers,omitempty"`

	Approved bool   `json:"approved,omitempty"`
	NewMode  string `json:"new_mode,omitempty"`

	// Cancelled resolves question/plan dialogs to nil and permission
	// dialogs to Deny
	Cancelled bool `json:"cancelled,omitempty"`
}

// ChannelsListResponse wraps the channel list
type ChannelsListResponse struct {
	Channels []v1.ChannelInfo `json:"channels"`
	Total    int              `json:"total"`
}

// TranscriptResponse wraps a channel's transcript
type TranscriptResponse struct {
	ChannelID string                `json:"channel_id"`
	Entries   []*v1.TranscriptEntry `json:"entries"`
	Total     int                   `json:"total"`
}

// RewindResult reports the outcome of a rewind operation
type RewindResult struct {
	ChannelID string `json:"channel_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}
