// Package events provides event types and utilities for the chanbridge event system.
package events

// Event types for channel lifecycle
const (
	ChannelStarted     = "channel.started"
	ChannelCompleted   = "channel.completed"
	ChannelFailed      = "channel.failed"
	ChannelInterrupted = "channel.interrupted"
	ChannelRestarted   = "channel.restarted"
	ChannelRewound     = "channel.rewound"
)

// Event types for streamed channel output
const (
	ChannelStream = "channel.stream" // Base subject for per-channel stream events
)

// Event types for dialog arbitration
const (
	PermissionRequested = "permission.requested"
	PermissionResolved  = "permission.resolved"
	QuestionRequested   = "question.requested"
	QuestionAnswered    = "question.answered"
	PlanRequested       = "plan.requested"
	PlanResolved        = "plan.resolved"
)

// Event types for transcript persistence
const (
	TranscriptAppended = "transcript.appended"
)

// Event types for runtime detection
const (
	NodeDetected = "node.detected"
)

// BuildChannelSubject creates a lifecycle subject for a specific channel
func BuildChannelSubject(eventType, channelID string) string {
	return eventType + "." + channelID
}

// BuildChannelWildcardSubject creates a wildcard subscription for a lifecycle event type
func BuildChannelWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// BuildChannelStreamSubject creates a stream subject for a specific channel
func BuildChannelStreamSubject(channelID string) string {
	return ChannelStream + "." + channelID
}

// BuildChannelStreamWildcardSubject creates a wildcard subscription for all channel stream events
func BuildChannelStreamWildcardSubject() string {
	return ChannelStream + ".*"
}

// BuildPermissionRequestSubject creates a permission request subject for a specific channel
func BuildPermissionRequestSubject(channelID string) string {
	return PermissionRequested + "." + channelID
}

// BuildPermissionRequestWildcardSubject creates a wildcard subscription for all permission requests
func BuildPermissionRequestWildcardSubject() string {
	return PermissionRequested + ".*"
}

// BuildTranscriptSubject creates a transcript subject for a specific channel
func BuildTranscriptSubject(channelID string) string {
	return TranscriptAppended + "." + channelID
}

// BuildTranscriptWildcardSubject creates a wildcard subscription for all transcript events
func BuildTranscriptWildcardSubject() string {
	return TranscriptAppended + ".*"
}
