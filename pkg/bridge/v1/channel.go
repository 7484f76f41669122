package v1

import "time"

// ChannelStatus represents the streaming state of a channel
type ChannelStatus string

const (
	ChannelStatusIdle        ChannelStatus = "IDLE"
	ChannelStatusStarting    ChannelStatus = "STARTING"
	ChannelStatusRunning     ChannelStatus = "RUNNING"
	ChannelStatusInterrupted ChannelStatus = "INTERRUPTED"
	ChannelStatusCompleted   ChannelStatus = "COMPLETED"
	ChannelStatusFailed      ChannelStatus = "FAILED"
)

// ChannelInfo represents the externally visible state of a channel
type ChannelInfo struct {
	ChannelID    string        `json:"channel_id"`
	SessionID    string        `json:"session_id,omitempty"`
	WorkDir      string        `json:"work_dir,omitempty"`
	Status       ChannelStatus `json:"status"`
	MessageCount int           `json:"message_count"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	LastActivity *time.Time    `json:"last_activity,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NodeInfo describes the detected Node.js runtime
type NodeInfo struct {
	Path      string `json:"path"`
	Version   string `json:"version"`
	Supported bool   `json:"supported"`
}

// CommandResult is the terminal outcome of one streaming command
type CommandResult struct {
	ChannelID    string `json:"channel_id"`
	Success      bool   `json:"success"`
	Interrupted  bool   `json:"interrupted"`
	FinalResult  string `json:"final_result,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	MessageCount int    `json:"message_count"`
	ExitCode     int    `json:"exit_code"`
}

// TranscriptEntry is one persisted transcript record
type TranscriptEntry struct {
	ID        int64     `json:"id"`
	ChannelID string    `json:"channel_id"`
	Kind      string    `json:"kind"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
