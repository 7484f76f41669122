// Package permission correlates asynchronous permission, question and
// plan-approval requests raised by the bridge process with user
// decisions arriving later from the presentation layer.
package permission

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/common/logger"
)

// Decision is the resolution of a tool-permission request.
type Decision int

const (
	Deny Decision = iota
	Allow
	AllowAlways
)

// String returns the wire name of a decision.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "ALLOW"
	case AllowAlways:
		return "ALLOW_ALWAYS"
	default:
		return "DENY"
	}
}

// CorrelationID matches an asynchronous request to its eventual
// response. IDs are always freshly generated; a channel id is never
// reused as a correlation key, so two request kinds on the same channel
// cannot collide.
type CorrelationID string

// NewCorrelationID generates a fresh correlation id.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// Kind distinguishes the three dialog protocols.
type Kind int

const (
	KindPermission Kind = iota
	KindQuestion
	KindPlan
)

// PermissionRequest asks the user to approve one tool execution.
type PermissionRequest struct {
	ChannelID string          `json:"channel_id"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"inputs,omitempty"`
}

// QuestionRequest asks the user to answer a set of questions.
type QuestionRequest struct {
	ChannelID string          `json:"channel_id"`
	Questions json.RawMessage `json:"questions"`
}

// PlanRequest asks the user to approve a proposed plan.
type PlanRequest struct {
	ChannelID   string          `json:"channel_id"`
	Plan        string          `json:"plan"`
	Suggestions json.RawMessage `json:"suggestions,omitempty"`
}

// PlanDecision is the non-cancelled resolution of a plan request.
type PlanDecision struct {
	Approved bool   `json:"approved"`
	NewMode  string `json:"new_mode,omitempty"`
}

// DecisionMessage is the presentation-layer response for any dialog
// kind. Fields are populated per kind.
type DecisionMessage struct {
	CorrelationID string `json:"correlation_id"`

	// Permission fields
	Allow         bool   `json:"allow,omitempty"`
	Remember      bool   `json:"remember,omitempty"`
	RejectMessage string `json:"reject_message,omitempty"`

	// Question fields
	Answers map[string]string `json:"answers,omitempty"`

	// Plan fields
	Approved bool   `json:"approved,omitempty"`
	NewMode  string `json:"new_mode,omitempty"`

	// Cancelled resolves question/plan dialogs to nil and permission
	// dialogs to Deny
	Cancelled bool `json:"cancelled,omitempty"`
}

// Notifier pushes "show dialog" instructions to the presentation layer.
// Dispatch failures must not leak pending entries; the arbiter resolves
// the request to its safe default when Show* returns an error.
type Notifier interface {
	ShowPermissionDialog(id CorrelationID, req PermissionRequest) error
	ShowQuestionDialog(id CorrelationID, req QuestionRequest) error
	ShowPlanDialog(id CorrelationID, req PlanRequest) error
}

type pendingRequest struct {
	kind      Kind
	channelID string
	decision  chan DecisionMessage
}

// Arbiter owns the pending-futures map. Every registered entry resolves
// exactly once: by decision, timeout, dispatch failure, or channel
// cancellation.
type Arbiter struct {
	mu       sync.Mutex
	pending  map[CorrelationID]*pendingRequest
	notifier Notifier
	// dialogTimeout bounds permission dialogs only; zero waits forever.
	// Questions and plan approvals always wait until decided or
	// cancelled, matching CLI behavior.
	dialogTimeout time.Duration
	onDenied      func(PermissionRequest)
	logger        *logger.Logger
}

// NewArbiter creates an Arbiter. onDenied is invoked whenever a
// permission request resolves to Deny, decoupling the arbiter from the
// host's notification or flow-abort logic; it may be nil.
func NewArbiter(notifier Notifier, dialogTimeout time.Duration, onDenied func(PermissionRequest), log *logger.Logger) *Arbiter {
	return &Arbiter{
		pending:       make(map[CorrelationID]*pendingRequest),
		notifier:      notifier,
		dialogTimeout: dialogTimeout,
		onDenied:      onDenied,
		logger:        log.WithFields(zap.String("component", "permission-arbiter")),
	}
}

// register installs a pending entry under a fresh correlation id.
func (a *Arbiter) register(kind Kind, channelID string) (CorrelationID, *pendingRequest) {
	id := NewCorrelationID()
	p := &pendingRequest{
		kind:      kind,
		channelID: channelID,
		decision:  make(chan DecisionMessage, 1),
	}
	a.mu.Lock()
	a.pending[id] = p
	a.mu.Unlock()
	return id, p
}

// take removes the entry if it is still pending. Exactly one caller
// wins; the loser reads the decision the winner buffered.
func (a *Arbiter) take(id CorrelationID) (*pendingRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	return p, ok
}

// Resolve delivers a decision for a pending correlation id. Returns
// false when the id is unknown or already resolved.
func (a *Arbiter) Resolve(id CorrelationID, msg DecisionMessage) bool {
	p, ok := a.take(id)
	if !ok {
		a.logger.Warn("Decision for unknown correlation id",
			zap.String("correlation_id", string(id)))
		return false
	}
	p.decision <- msg
	return true
}

// CancelChannel resolves every pending request belonging to a channel
// to its safe default. Called on channel interrupt so no future leaks.
func (a *Arbiter) CancelChannel(channelID string) int {
	a.mu.Lock()
	var cancelled []*pendingRequest
	for id, p := range a.pending {
		if p.channelID == channelID {
			delete(a.pending, id)
			cancelled = append(cancelled, p)
		}
	}
	a.mu.Unlock()

	for _, p := range cancelled {
		p.decision <- DecisionMessage{Cancelled: true}
	}

	if len(cancelled) > 0 {
		a.logger.Info("Cancelled pending dialogs for channel",
			zap.String("channel_id", channelID),
			zap.Int("count", len(cancelled)))
	}
	return len(cancelled)
}

// PendingCount returns the number of unresolved requests.
func (a *Arbiter) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// RequestPermission shows a tool-permission dialog and blocks until a
// decision, timeout, dispatch failure, or context cancellation. Every
// path resolves to a definite Decision; Deny fires the denied callback.
func (a *Arbiter) RequestPermission(ctx context.Context, req PermissionRequest) Decision {
	id, p := a.register(KindPermission, req.ChannelID)
	log := a.logger.WithChannelID(req.ChannelID).WithCorrelationID(string(id))

	if err := a.notifier.ShowPermissionDialog(id, req); err != nil {
		// The pending entry must not dangle when dispatch fails
		if _, ok := a.take(id); ok {
			log.Warn("Permission dialog dispatch failed, denying", zap.Error(err))
			return a.denied(req)
		}
		// A racing resolution already buffered a decision
		return a.permissionOutcome(req, <-p.decision)
	}

	var timeout <-chan time.Time
	if a.dialogTimeout > 0 {
		timer := time.NewTimer(a.dialogTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case msg := <-p.decision:
		return a.permissionOutcome(req, msg)

	case <-timeout:
		if _, ok := a.take(id); ok {
			log.Info("Permission dialog timed out, denying")
			return a.denied(req)
		}
		// Resolve won the race; its decision is buffered
		return a.permissionOutcome(req, <-p.decision)

	case <-ctx.Done():
		if _, ok := a.take(id); ok {
			log.Info("Permission request cancelled by context")
			return a.denied(req)
		}
		return a.permissionOutcome(req, <-p.decision)
	}
}

func (a *Arbiter) permissionOutcome(req PermissionRequest, msg DecisionMessage) Decision {
	if msg.Cancelled || !msg.Allow {
		return a.denied(req)
	}
	if msg.Remember {
		return AllowAlways
	}
	return Allow
}

func (a *Arbiter) denied(req PermissionRequest) Decision {
	if a.onDenied != nil {
		a.onDenied(req)
	}
	return Deny
}

// AskQuestion shows a question dialog and blocks until answered or
// cancelled. Resolves to nil when the user cancels. No timeout; the
// wait is unbounded but released by context cancellation or
// CancelChannel.
func (a *Arbiter) AskQuestion(ctx context.Context, req QuestionRequest) map[string]string {
	id, p := a.register(KindQuestion, req.ChannelID)
	log := a.logger.WithChannelID(req.ChannelID).WithCorrelationID(string(id))

	if err := a.notifier.ShowQuestionDialog(id, req); err != nil {
		if _, ok := a.take(id); ok {
			log.Warn("Question dialog dispatch failed", zap.Error(err))
			return nil
		}
		msg := <-p.decision
		return questionOutcome(msg)
	}

	select {
	case msg := <-p.decision:
		return questionOutcome(msg)
	case <-ctx.Done():
		if _, ok := a.take(id); ok {
			return nil
		}
		return questionOutcome(<-p.decision)
	}
}

func questionOutcome(msg DecisionMessage) map[string]string {
	if msg.Cancelled {
		return nil
	}
	return msg.Answers
}

// ApprovePlan shows a plan-approval dialog and blocks until decided or
// cancelled. Resolves to nil when the user cancels; a non-nil decision
// always carries a definite approved flag.
func (a *Arbiter) ApprovePlan(ctx context.Context, req PlanRequest) *PlanDecision {
	id, p := a.register(KindPlan, req.ChannelID)
	log := a.logger.WithChannelID(req.ChannelID).WithCorrelationID(string(id))

	if err := a.notifier.ShowPlanDialog(id, req); err != nil {
		if _, ok := a.take(id); ok {
			log.Warn("Plan dialog dispatch failed", zap.Error(err))
			return nil
		}
		return planOutcome(<-p.decision)
	}

	select {
	case msg := <-p.decision:
		return planOutcome(msg)
	case <-ctx.Done():
		if _, ok := a.take(id); ok {
			return nil
		}
		return planOutcome(<-p.decision)
	}
}

func planOutcome(msg DecisionMessage) *PlanDecision {
	if msg.Cancelled {
		return nil
	}
	return &PlanDecision{Approved: msg.Approved, NewMode: msg.NewMode}
}
