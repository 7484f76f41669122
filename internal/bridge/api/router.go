package api

import (
	"github.com/gin-gonic/gin"

	"github.com/chanbridge/chanbridge/internal/bridge/node"
	"github.com/chanbridge/chanbridge/internal/bridge/permission"
	"github.com/chanbridge/chanbridge/internal/bridge/sdk"
	"github.com/chanbridge/chanbridge/internal/common/logger"
)

// SetupRoutes configures the bridge API routes
func SetupRoutes(router *gin.RouterGroup, manager *sdk.Manager, arbiter *permission.Arbiter, detector *node.Detector, log *logger.Logger) {
	handler := NewHandler(manager, arbiter, detector, log)

	// Channel routes
	channels := router.Group("/channels")
	{
		channels.GET("", handler.ListChannels)
		channels.GET("/:channelId", handler.GetChannel)
		channels.POST("/:channelId/send", handler.SendCommand)
		channels.POST("/:channelId/interrupt", handler.InterruptChannel)
		channels.POST("/:channelId/restart", handler.RestartChannel)
		channels.POST("/:channelId/rewind", handler.RewindChannel)
		channels.GET("/:channelId/transcript", handler.GetTranscript)
	}

	// Dialog decision routes
	router.POST("/decisions", handler.ResolveDecision)

	// Runtime routes
	router.GET("/node", handler.GetNodeInfo)
}
