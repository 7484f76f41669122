package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbridge/chanbridge/internal/bridge/permission"
	"github.com/chanbridge/chanbridge/internal/bridge/proc"
	"github.com/chanbridge/chanbridge/internal/bridge/sdk"
	"github.com/chanbridge/chanbridge/internal/common/logger"
	"github.com/chanbridge/chanbridge/internal/events/bus"
	"github.com/chanbridge/chanbridge/internal/transcript"
	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

// blockingRunner holds the simulated bridge process open until released.
type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) RunStreaming(_ context.Context, _ sdk.StreamRequest, _ sdk.EventSink) *sdk.Result {
	if r.release != nil {
		<-r.release
	}
	return sdk.NewResult().Finalize(0, false, "")
}

type stubRewinder struct{}

func (stubRewinder) Rewind(_ context.Context, _, _, _, _ string) (*sdk.RewindResponse, *sdk.Result) {
	return &sdk.RewindResponse{Success: true}, sdk.NewResult().Finalize(0, false, "")
}

type noopNotifier struct{}

func (noopNotifier) ShowPermissionDialog(permission.CorrelationID, permission.PermissionRequest) error {
	return nil
}
func (noopNotifier) ShowQuestionDialog(permission.CorrelationID, permission.QuestionRequest) error {
	return nil
}
func (noopNotifier) ShowPlanDialog(permission.CorrelationID, permission.PlanRequest) error {
	return nil
}

type apiFixture struct {
	handler *Handler
	arbiter *permission.Arbiter
	runner  *blockingRunner
	router  *gin.Engine
}

func setupTestHandler(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	supervisor := proc.NewSupervisor(100*time.Millisecond, log)
	arbiter := permission.NewArbiter(noopNotifier{}, time.Second, nil, log)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	runner := &blockingRunner{}
	manager := sdk.NewManager(runner, stubRewinder{}, supervisor, arbiter,
		transcript.NewMemoryStore(), eventBus, log)
	handler := NewHandler(manager, arbiter, nil, log)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), manager, arbiter, nil, log)

	return &apiFixture{handler: handler, arbiter: arbiter, runner: runner, router: router}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_ListChannelsEmpty(t *testing.T) {
	f := setupTestHandler(t)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/channels", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ChannelsListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Total)
}

func TestHandler_SendCreatesChannel(t *testing.T) {
	f := setupTestHandler(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/channels/chan-1/send",
		SendRequest{Prompt: "hello"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/channels/chan-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info v1.ChannelInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "chan-1", info.ChannelID)
}

func TestHandler_SendMissingPrompt(t *testing.T) {
	f := setupTestHandler(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/channels/chan-1/send",
		map[string]string{"work_dir": "/tmp"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SendBusyChannelConflicts(t *testing.T) {
	f := setupTestHandler(t)
	f.runner.release = make(chan struct{})
	defer close(f.runner.release)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/channels/chan-busy/send",
		SendRequest{Prompt: "first"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, f.router, http.MethodPost, "/api/v1/channels/chan-busy/send",
		SendRequest{Prompt: "second"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestHandler_GetChannelNotFound(t *testing.T) {
	f := setupTestHandler(t)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/channels/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_InterruptUnknownChannel(t *testing.T) {
	f := setupTestHandler(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/channels/nonexistent/interrupt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_TranscriptEmptyChannel(t *testing.T) {
	f := setupTestHandler(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/channels/chan-t/send",
		SendRequest{Prompt: "hello"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/channels/chan-t/transcript", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TranscriptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "chan-t", resp.ChannelID)
}

func TestHandler_ResolveDecisionUnknownCorrelation(t *testing.T) {
	f := setupTestHandler(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/decisions",
		DecisionRequest{CorrelationID: "no-such-id", Allow: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ResolveDecisionAllowsPendingPermission(t *testing.T) {
	ids := make(chan permission.CorrelationID, 1)
	arbiter := permission.NewArbiter(captureNotifier{ids: ids}, time.Second, nil, mustLogger(t))
	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), nil, arbiter, nil, mustLogger(t))

	decisions := make(chan permission.Decision, 1)
	go func() {
		decisions <- arbiter.RequestPermission(context.Background(), permission.PermissionRequest{
			ChannelID: "chan-d",
			ToolName:  "Bash",
		})
	}()

	var id permission.CorrelationID
	select {
	case id = <-ids:
	case <-time.After(time.Second):
		t.Fatal("dialog never dispatched")
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/decisions",
		DecisionRequest{CorrelationID: string(id), Allow: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	select {
	case d := <-decisions:
		assert.Equal(t, permission.Allow, d)
	case <-time.After(time.Second):
		t.Fatal("permission request never resolved")
	}
}

func TestHandler_ResolveDecisionCancelsPendingPlan(t *testing.T) {
	ids := make(chan permission.CorrelationID, 1)
	arbiter := permission.NewArbiter(captureNotifier{ids: ids}, time.Second, nil, mustLogger(t))
	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), nil, arbiter, nil, mustLogger(t))

	decisions := make(chan *permission.PlanDecision, 1)
	go func() {
		decisions <- arbiter.ApprovePlan(context.Background(), permission.PlanRequest{
			ChannelID: "chan-p",
			Plan:      "1. do the thing",
		})
	}()

	var id permission.CorrelationID
	select {
	case id = <-ids:
	case <-time.After(time.Second):
		t.Fatal("dialog never dispatched")
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/decisions",
		DecisionRequest{CorrelationID: string(id), Cancelled: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	select {
	case d := <-decisions:
		assert.Nil(t, d)
	case <-time.After(time.Second):
		t.Fatal("plan approval never resolved")
	}
}

type captureNotifier struct {
	ids chan permission.CorrelationID
}

func (c captureNotifier) ShowPermissionDialog(id permission.CorrelationID, _ permission.PermissionRequest) error {
	c.ids <- id
	return nil
}
func (c captureNotifier) ShowQuestionDialog(id permission.CorrelationID, _ permission.QuestionRequest) error {
	c.ids <- id
	return nil
}
func (c captureNotifier) ShowPlanDialog(id permission.CorrelationID, _ permission.PlanRequest) error {
	c.ids <- id
	return nil
}

func mustLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}
