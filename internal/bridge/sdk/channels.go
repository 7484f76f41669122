package sdk

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/bridge/permission"
	"github.com/chanbridge/chanbridge/internal/bridge/proc"
	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
	"github.com/chanbridge/chanbridge/internal/common/logger"
	"github.com/chanbridge/chanbridge/internal/events"
	"github.com/chanbridge/chanbridge/internal/events/bus"
	"github.com/chanbridge/chanbridge/internal/transcript"
	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

const eventSource = "bridge-manager"

// RewindRunner runs the single-shot rewind operation.
type RewindRunner interface {
	Rewind(ctx context.Context, channelID, sessionID, messageID, workDir string) (*RewindResponse, *Result)
}

type channelState struct {
	info    v1.ChannelInfo
	running bool
}

// Manager multiplexes chat channels over bridge child processes. Each
// channel owns at most one live process; a send on a busy channel is
// refused rather than spawning a second process.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*channelState

	runner     StreamRunner
	rewinder   RewindRunner
	supervisor *proc.Supervisor
	arbiter    *permission.Arbiter
	store      transcript.Store
	eventBus   bus.EventBus
	logger     *logger.Logger
}

// NewManager creates a channel Manager.
func NewManager(
	runner StreamRunner,
	rewinder RewindRunner,
	supervisor *proc.Supervisor,
	arbiter *permission.Arbiter,
	store transcript.Store,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Manager {
	return &Manager{
		channels:   make(map[string]*channelState),
		runner:     runner,
		rewinder:   rewinder,
		supervisor: supervisor,
		arbiter:    arbiter,
		store:      store,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "channel-manager")),
	}
}

// Send starts a streaming command on a channel. The channel is created
// on first send. Returns ChannelBusy while a command is in flight; the
// existing process is never replaced by a send.
func (m *Manager) Send(ctx context.Context, channelID, prompt, workDir string) error {
	if channelID == "" {
		return apperrors.BadRequest("channel_id is required")
	}
	if prompt == "" {
		return apperrors.BadRequest("prompt is required")
	}

	m.mu.Lock()
	ch, ok := m.channels[channelID]
	if !ok {
		ch = &channelState{info: v1.ChannelInfo{
			ChannelID: channelID,
			Status:    v1.ChannelStatusIdle,
			CreatedAt: time.Now().UTC(),
		}}
		m.channels[channelID] = ch
	}
	if ch.running {
		m.mu.Unlock()
		return apperrors.ChannelBusy(channelID)
	}
	ch.running = true
	ch.info.Status = v1.ChannelStatusStarting
	if workDir != "" {
		ch.info.WorkDir = workDir
	}
	now := time.Now().UTC()
	ch.info.StartedAt = &now
	sessionID := ch.info.SessionID
	resolvedWorkDir := ch.info.WorkDir
	m.mu.Unlock()

	m.publish(ctx, events.ChannelStarted, channelID, map[string]interface{}{
		"channel_id": channelID,
	})

	go m.run(channelID, prompt, sessionID, resolvedWorkDir)
	return nil
}

// run executes one streaming command to completion on its own
// goroutine; the blocking read loop must never run on a caller thread.
func (m *Manager) run(channelID, prompt, sessionID, workDir string) {
	ctx := context.Background()
	log := m.logger.WithChannelID(channelID)

	payload := map[string]string{"prompt": prompt}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}

	result := m.runner.RunStreaming(ctx, StreamRequest{
		ChannelID: channelID,
		Provider:  "claude",
		Operation: "stream",
		WorkDir:   workDir,
		Payload:   payload,
	}, m)

	m.finalize(ctx, channelID, result, log)
}

func (m *Manager) finalize(ctx context.Context, channelID string, result *Result, log *logger.Logger) {
	// Any dialog still pending when the command ends must resolve
	m.arbiter.CancelChannel(channelID)

	var status v1.ChannelStatus
	var subject string
	switch {
	case result.Interrupted:
		status = v1.ChannelStatusInterrupted
		subject = events.ChannelInterrupted
	case result.Success:
		status = v1.ChannelStatusCompleted
		subject = events.ChannelCompleted
	default:
		status = v1.ChannelStatusFailed
		subject = events.ChannelFailed
	}

	m.mu.Lock()
	if ch, ok := m.channels[channelID]; ok {
		ch.running = false
		ch.info.Status = status
		ch.info.MessageCount += result.MessageCount
		now := time.Now().UTC()
		ch.info.LastActivity = &now
	}
	m.mu.Unlock()

	kind := transcript.KindResult
	if !result.Success && !result.Interrupted {
		kind = transcript.KindError
	}
	m.appendEntry(ctx, &v1.TranscriptEntry{
		ChannelID: channelID,
		Kind:      kind,
		Content:   result.Error,
		Payload:   result.FinalResult,
	})

	m.publish(ctx, subject, channelID, v1.CommandResult{
		ChannelID:    channelID,
		Success:      result.Success,
		Interrupted:  result.Interrupted,
		FinalResult:  result.FinalResult,
		Error:        result.Error,
		ErrorCode:    result.ErrorCode,
		MessageCount: result.MessageCount,
		ExitCode:     result.ExitCode,
	})

	log.Info("Streaming command finalized",
		zap.Bool("success", result.Success),
		zap.Bool("interrupted", result.Interrupted),
		zap.Int("message_count", result.MessageCount))
}

// Interrupt stops the in-flight command on a channel. Pending dialog
// futures resolve to their safe defaults so none leak.
func (m *Manager) Interrupt(ctx context.Context, channelID string) error {
	m.mu.RLock()
	ch, ok := m.channels[channelID]
	running := ok && ch.running
	m.mu.RUnlock()

	if !ok {
		return apperrors.NotFound("channel", channelID)
	}
	if !running {
		return apperrors.Conflict("channel has no command in flight")
	}

	m.arbiter.CancelChannel(channelID)
	m.supervisor.Interrupt(channelID)
	return nil
}

// Restart interrupts any in-flight command and resets the channel's
// session so the next send starts a fresh conversation.
func (m *Manager) Restart(ctx context.Context, channelID string) error {
	m.mu.Lock()
	ch, ok := m.channels[channelID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("channel", channelID)
	}
	running := ch.running
	ch.info.SessionID = ""
	if !running {
		ch.info.Status = v1.ChannelStatusIdle
	}
	m.mu.Unlock()

	if running {
		m.arbiter.CancelChannel(channelID)
		m.supervisor.Interrupt(channelID)
	}

	// A restarted channel is a fresh conversation; its history goes too
	if err := m.store.DeleteChannel(ctx, channelID); err != nil {
		m.logger.Warn("Failed to clear transcript on restart",
			zap.String("channel_id", channelID), zap.Error(err))
	}

	m.publish(ctx, events.ChannelRestarted, channelID, map[string]interface{}{
		"channel_id": channelID,
	})
	return nil
}

// Rewind rewinds a channel's conversation to a prior message via the
// single-shot bridge operation.
func (m *Manager) Rewind(ctx context.Context, channelID, messageID string) (*RewindResponse, error) {
	if messageID == "" {
		return nil, apperrors.BadRequest("message_id is required")
	}

	m.mu.RLock()
	ch, ok := m.channels[channelID]
	var sessionID, workDir string
	var running bool
	if ok {
		sessionID = ch.info.SessionID
		workDir = ch.info.WorkDir
		running = ch.running
	}
	m.mu.RUnlock()

	if !ok {
		return nil, apperrors.NotFound("channel", channelID)
	}
	if running {
		return nil, apperrors.ChannelBusy(channelID)
	}

	resp, _ := m.rewinder.Rewind(ctx, channelID, sessionID, messageID, workDir)

	if resp.Success {
		if resp.SessionID != "" {
			m.mu.Lock()
			if ch, ok := m.channels[channelID]; ok {
				ch.info.SessionID = resp.SessionID
			}
			m.mu.Unlock()
		}
		m.truncateTranscript(ctx, channelID, messageID)
		m.publish(ctx, events.ChannelRewound, channelID, map[string]interface{}{
			"channel_id": channelID,
			"message_id": messageID,
		})
	}

	return resp, nil
}

// truncateTranscript drops every entry recorded after the rewound
// message. The cut point is the last stored entry whose payload carries
// the message id; an id the transcript never saw truncates nothing.
func (m *Manager) truncateTranscript(ctx context.Context, channelID, messageID string) {
	entries, err := m.store.List(ctx, channelID, 0, 0)
	if err != nil {
		m.logger.Warn("Failed to load transcript for truncation",
			zap.String("channel_id", channelID), zap.Error(err))
		return
	}

	var cutID int64 = -1
	for _, e := range entries {
		if strings.Contains(e.Payload, messageID) {
			cutID = e.ID
		}
	}
	if cutID < 0 {
		return
	}

	if err := m.store.TruncateAfter(ctx, channelID, cutID); err != nil {
		m.logger.Warn("Failed to truncate transcript",
			zap.String("channel_id", channelID), zap.Error(err))
	}
}

// Get returns a channel's externally visible state.
func (m *Manager) Get(channelID string) (v1.ChannelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return v1.ChannelInfo{}, apperrors.NotFound("channel", channelID)
	}
	return ch.info, nil
}

// List returns all known channels.
func (m *Manager) List() []v1.ChannelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]v1.ChannelInfo, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.info)
	}
	return out
}

// Transcript returns a channel's persisted entries. A positive limit
// caps the result; sinceID skips entries already fetched.
func (m *Manager) Transcript(ctx context.Context, channelID string, limit int, sinceID int64) ([]*v1.TranscriptEntry, error) {
	m.mu.RLock()
	_, ok := m.channels[channelID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("channel", channelID)
	}
	return m.store.List(ctx, channelID, limit, sinceID)
}

// Shutdown kills all live processes. Used on host shutdown.
func (m *Manager) Shutdown() {
	m.supervisor.CleanupAll()
}

// OnEvent implements EventSink. Protocol events update channel state,
// are persisted to the transcript, and fan out on the event bus. Dialog
// requests are arbitrated off the read loop.
func (m *Manager) OnEvent(channelID string, ev *Event) {
	ctx := context.Background()

	m.mu.Lock()
	if ch, ok := m.channels[channelID]; ok {
		now := time.Now().UTC()
		ch.info.LastActivity = &now
		if ch.info.Status == v1.ChannelStatusStarting {
			ch.info.Status = v1.ChannelStatusRunning
		}
		// The session id is assigned once, when the process reports it
		if ev.Type == "system" && ev.Subtype == "init" && ch.info.SessionID == "" && ev.SessionID != "" {
			ch.info.SessionID = ev.SessionID
		}
	}
	m.mu.Unlock()

	m.appendEntry(ctx, &v1.TranscriptEntry{
		ChannelID: channelID,
		Kind:      transcript.KindEvent,
		Role:      ev.Type,
		Content:   ev.Text(),
		Payload:   ev.Raw(),
	})

	m.publish(ctx, events.BuildChannelStreamSubject(channelID), channelID, map[string]interface{}{
		"channel_id": channelID,
		"event":      ev.Raw(),
	})

	switch ev.Type {
	case "permission_request":
		go m.arbitratePermission(channelID, ev)
	case "question_request":
		go m.arbitrateQuestion(channelID, ev)
	case "plan_request":
		go m.arbitratePlan(channelID, ev)
	}
}

// OnText implements EventSink for plain non-JSON output lines.
func (m *Manager) OnText(channelID string, text string) {
	ctx := context.Background()
	m.appendEntry(ctx, &v1.TranscriptEntry{
		ChannelID: channelID,
		Kind:      transcript.KindText,
		Content:   text,
	})
}

// arbitratePermission runs the permission dialog round-trip on its own
// goroutine so the stdout read loop keeps draining.
func (m *Manager) arbitratePermission(channelID string, ev *Event) {
	ctx := context.Background()

	m.publish(ctx, events.BuildPermissionRequestSubject(channelID), channelID, map[string]interface{}{
		"channel_id": channelID,
		"tool_name":  ev.ToolName,
	})

	decision := m.arbiter.RequestPermission(ctx, permission.PermissionRequest{
		ChannelID: channelID,
		ToolName:  ev.ToolName,
		Input:     ev.ToolInput,
	})

	m.appendEntry(ctx, &v1.TranscriptEntry{
		ChannelID: channelID,
		Kind:      transcript.KindPermission,
		Role:      "permission",
		Content:   decision.String(),
		Payload:   ev.Raw(),
	})

	m.publish(ctx, events.PermissionResolved, channelID, map[string]interface{}{
		"channel_id": channelID,
		"tool_name":  ev.ToolName,
		"decision":   decision.String(),
	})
}

func (m *Manager) arbitrateQuestion(channelID string, ev *Event) {
	ctx := context.Background()

	m.publish(ctx, events.BuildChannelSubject(events.QuestionRequested, channelID), channelID, map[string]interface{}{
		"channel_id": channelID,
		"questions":  ev.Questions,
	})

	answers := m.arbiter.AskQuestion(ctx, permission.QuestionRequest{
		ChannelID: channelID,
		Questions: ev.Questions,
	})

	m.publish(ctx, events.QuestionAnswered, channelID, map[string]interface{}{
		"channel_id": channelID,
		"answers":    answers,
		"cancelled":  answers == nil,
	})
}

func (m *Manager) arbitratePlan(channelID string, ev *Event) {
	ctx := context.Background()

	m.publish(ctx, events.BuildChannelSubject(events.PlanRequested, channelID), channelID, map[string]interface{}{
		"channel_id": channelID,
		"plan":       ev.Plan,
	})

	decision := m.arbiter.ApprovePlan(ctx, permission.PlanRequest{
		ChannelID:   channelID,
		Plan:        ev.Plan,
		Suggestions: ev.Suggestions,
	})

	data := map[string]interface{}{
		"channel_id": channelID,
		"cancelled":  decision == nil,
	}
	if decision != nil {
		data["approved"] = decision.Approved
		if decision.NewMode != "" {
			data["new_mode"] = decision.NewMode
		}
	}
	m.publish(ctx, events.PlanResolved, channelID, data)
}

func (m *Manager) appendEntry(ctx context.Context, entry *v1.TranscriptEntry) {
	stored, err := m.store.Append(ctx, entry)
	if err != nil {
		m.logger.Error("Failed to persist transcript entry",
			zap.String("channel_id", entry.ChannelID),
			zap.Error(err))
		return
	}
	m.publish(ctx, events.BuildTranscriptSubject(entry.ChannelID), entry.ChannelID, stored)
}

func (m *Manager) publish(ctx context.Context, subject, channelID string, data interface{}) {
	if m.eventBus == nil {
		return
	}
	event := bus.NewEvent(subject, eventSource, data)
	if err := m.eventBus.Publish(ctx, subject, event); err != nil {
		m.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}
