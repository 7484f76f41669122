// Package sdk orchestrates streaming command execution against the
// bridge child process and accumulates its results.
package sdk

import (
	"encoding/json"
	"strings"
)

// Error-marker prefixes the bridge script prints for its own failures.
// Marker lines are diagnostics, not protocol events; the most recent one
// is kept as the "last known node error" for exit-code messages.
var errorMarkers = []string{
	"[UNCAUGHT_ERROR]",
	"[UNHANDLED_REJECTION]",
	"[COMMAND_ERROR]",
	"[STARTUP_ERROR]",
	"[ERROR]",
}

// LineKind tags the classification of one output line.
type LineKind int

const (
	// LineText is plain non-JSON output forwarded to the transcript.
	LineText LineKind = iota
	// LineDiagnostic is an error-marker line captured as the last known
	// node error.
	LineDiagnostic
	// LineEvent is a structured protocol event.
	LineEvent
)

// Event is the envelope shape of one structured protocol line.
type Event struct {
	Type      string `json:"type"`    // "system", "assistant", "user", "result", "permission_request", "question_request", "plan_request"
	Subtype   string `json:"subtype"` // "init", "success", ...
	SessionID string `json:"session_id,omitempty"`

	Message struct {
		Content []ContentBlock `json:"content"`
	} `json:"message"`

	// Result fields (type="result")
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Error   string `json:"error,omitempty"`

	// Dialog request fields (type="permission_request"/"question_request"/"plan_request")
	RequestID   string          `json:"request_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	Questions   json.RawMessage `json:"questions,omitempty"`
	Plan        string          `json:"plan,omitempty"`
	Suggestions json.RawMessage `json:"suggestions,omitempty"`

	raw string
}

// ContentBlock is one element of an assistant/user message.
type ContentBlock struct {
	Type  string          `json:"type"` // "text", "tool_use", "tool_result"
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// Raw returns the original protocol line the event was decoded from.
func (e *Event) Raw() string {
	return e.raw
}

// Text concatenates the text blocks of the event's message content.
func (e *Event) Text() string {
	var sb strings.Builder
	for _, block := range e.Message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Classified is the tagged result of classifying one output line. Each
// variant has a single explicit handler downstream.
type Classified struct {
	Kind LineKind

	// Marker and Message are set for LineDiagnostic
	Marker  string
	Message string

	// Event is set for LineEvent
	Event *Event

	// Text is set for LineText
	Text string
}

// Classify tags one raw output line as diagnostic, protocol event, or
// plain text. A line that starts with '{' but fails to decode is plain
// text; protocol errors never propagate out of classification.
func Classify(line string) Classified {
	trimmed := strings.TrimSpace(line)

	for _, marker := range errorMarkers {
		if strings.HasPrefix(trimmed, marker) {
			return Classified{
				Kind:    LineDiagnostic,
				Marker:  marker,
				Message: strings.TrimSpace(strings.TrimPrefix(trimmed, marker)),
			}
		}
	}

	if strings.HasPrefix(trimmed, "{") {
		var ev Event
		if err := json.Unmarshal([]byte(trimmed), &ev); err == nil && ev.Type != "" {
			ev.raw = trimmed
			return Classified{Kind: LineEvent, Event: &ev}
		}
	}

	return Classified{Kind: LineText, Text: line}
}
