package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/bridge/node"
	"github.com/chanbridge/chanbridge/internal/bridge/permission"
	"github.com/chanbridge/chanbridge/internal/bridge/sdk"
	"github.com/chanbridge/chanbridge/internal/common/errors"
	"github.com/chanbridge/chanbridge/internal/common/logger"
	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

// Handler contains HTTP handlers for the bridge API
type Handler struct {
	manager  *sdk.Manager
	arbiter  *permission.Arbiter
	detector *node.Detector
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(manager *sdk.Manager, arbiter *permission.Arbiter, detector *node.Detector, log *logger.Logger) *Handler {
	return &Handler{
		manager:  manager,
		arbiter:  arbiter,
		detector: detector,
		logger:   log,
	}
}

func parseIntQuery(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.BadRequest(name + " must be a non-negative integer")
	}
	return n, nil
}

func respondError(c *gin.Context, err error) {
	appErr := errors.Wrap(err, "request failed")
	c.JSON(appErr.HTTPStatus, appErr)
}

// Channel endpoints

// ListChannels returns all known channels
// GET /api/v1/channels
func (h *Handler) ListChannels(c *gin.Context) {
	channels := h.manager.List()
	c.JSON(http.StatusOK, ChannelsListResponse{
		Channels: channels,
		Total:    len(channels),
	})
}

// GetChannel retrieves a channel by ID
// GET /api/v1/channels/:channelId
func (h *Handler) GetChannel(c *gin.Context) {
	channelID := c.Param("channelId")

	info, err := h.manager.Get(channelID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// SendCommand starts a streaming command on a channel
// POST /api/v1/channels/:channelId/send
func (h *Handler) SendCommand(c *gin.Context) {
	channelID := c.Param("channelId")

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.manager.Send(c.Request.Context(), channelID, req.Prompt, req.WorkDir); err != nil {
		h.logger.Error("failed to send command", zap.String("channel_id", channelID), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"channel_id": channelID, "status": v1.ChannelStatusStarting})
}

// InterruptChannel interrupts the channel's in-flight command
// POST /api/v1/channels/:channelId/interrupt
func (h *Handler) InterruptChannel(c *gin.Context) {
	channelID := c.Param("channelId")

	if err := h.manager.Interrupt(c.Request.Context(), channelID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "status": v1.ChannelStatusInterrupted})
}

// RestartChannel resets a channel's session
// POST /api/v1/channels/:channelId/restart
func (h *Handler) RestartChannel(c *gin.Context) {
	channelID := c.Param("channelId")

	if err := h.manager.Restart(c.Request.Context(), channelID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "status": v1.ChannelStatusIdle})
}

// RewindChannel rewinds the channel's conversation to a message
// POST /api/v1/channels/:channelId/rewind
func (h *Handler) RewindChannel(c *gin.Context) {
	channelID := c.Param("channelId")

	var req RewindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.manager.Rewind(c.Request.Context(), channelID, req.MessageID)
	if err != nil {
		h.logger.Error("failed to rewind channel", zap.String("channel_id", channelID), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RewindResult{
		ChannelID: channelID,
		Success:   resp.Success,
		Message:   resp.Error,
	})
}

// GetTranscript returns the persisted transcript of a channel
// GET /api/v1/channels/:channelId/transcript?limit=&since=
func (h *Handler) GetTranscript(c *gin.Context) {
	channelID := c.Param("channelId")

	limit, err := parseIntQuery(c, "limit")
	if err != nil {
		appErr := errors.BadRequest("limit must be a non-negative integer")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	since, err := parseIntQuery(c, "since")
	if err != nil {
		appErr := errors.BadRequest("since must be a non-negative integer")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	entries, err := h.manager.Transcript(c.Request.Context(), channelID, int(limit), since)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, TranscriptResponse{
		ChannelID: channelID,
		Entries:   entries,
		Total:     len(entries),
	})
}

// Decision endpoint

// ResolveDecision resolves a pending dialog future
// POST /api/v1/decisions
func (h *Handler) ResolveDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	msg := permission.DecisionMessage{
		CorrelationID: req.CorrelationID,
		Allow:         req.Allow,
		Remember:      req.Remember,
		RejectMessage: req.RejectMessage,
		Answers:       req.Answers,
		Approved:      req.Approved,
		NewMode:       req.NewMode,
		Cancelled:     req.Cancelled,
	}
	if !h.arbiter.Resolve(permission.CorrelationID(req.CorrelationID), msg) {
		appErr := errors.NotFound("pending request", req.CorrelationID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{"correlation_id": req.CorrelationID, "resolved": true})
}

// Node endpoint

// GetNodeInfo reports the detected Node.js runtime
// GET /api/v1/node
func (h *Handler) GetNodeInfo(c *gin.Context) {
	path, version, err := h.detector.FindNodeExecutable(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, v1.NodeInfo{
		Path:      path,
		Version:   version,
		Supported: true,
	})
}
