package sdk

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/bridge/jsonio"
)

// RewindResponse is the payload of the final JSON line of a rewind run.
type RewindResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// captureSink buffers the full combined output of a single-shot run.
type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *captureSink) OnEvent(_ string, ev *Event) {
	s.mu.Lock()
	s.lines = append(s.lines, ev.Raw())
	s.mu.Unlock()
}

func (s *captureSink) OnText(_ string, text string) {
	s.mu.Lock()
	s.lines = append(s.lines, text)
	s.mu.Unlock()
}

func (s *captureSink) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// Rewind runs the single-shot rewind-to-message operation. Only the
// last valid JSON line of the captured output is authoritative; when no
// line parses, the response is derived from the exit code alone.
func (b *Bridge) Rewind(ctx context.Context, channelID, sessionID, messageID, workDir string) (*RewindResponse, *Result) {
	sink := &captureSink{}

	result := b.RunStreaming(ctx, StreamRequest{
		ChannelID: channelID,
		Provider:  "claude",
		Operation: "rewind",
		WorkDir:   workDir,
		Payload: map[string]string{
			"session_id": sessionID,
			"message_id": messageID,
		},
	}, sink)

	lastJSON := jsonio.ExtractLastJSONLine(sink.output())
	if lastJSON != "" {
		var resp RewindResponse
		if err := json.Unmarshal([]byte(lastJSON), &resp); err == nil {
			return &resp, result
		}
		b.logger.Warn("Malformed final rewind line",
			zap.String("channel_id", channelID))
	}

	// Fall back to exit-code-derived response
	resp := &RewindResponse{Success: result.Success}
	if !result.Success {
		resp.Error = result.Error
	}
	return resp, result
}
