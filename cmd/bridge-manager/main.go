package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/bridge/api"
	"github.com/chanbridge/chanbridge/internal/bridge/dispatch"
	"github.com/chanbridge/chanbridge/internal/bridge/node"
	"github.com/chanbridge/chanbridge/internal/bridge/permission"
	"github.com/chanbridge/chanbridge/internal/bridge/proc"
	"github.com/chanbridge/chanbridge/internal/bridge/sdk"
	"github.com/chanbridge/chanbridge/internal/common/config"
	"github.com/chanbridge/chanbridge/internal/common/logger"
	"github.com/chanbridge/chanbridge/internal/events"
	"github.com/chanbridge/chanbridge/internal/events/bus"
	"github.com/chanbridge/chanbridge/internal/gateway/websocket"
	"github.com/chanbridge/chanbridge/internal/transcript"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Bridge Manager service...")

	// 3. Event bus: NATS when configured, in-memory otherwise
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 4. Transcript store
	var store transcript.Store
	if cfg.Storage.Driver == "sqlite" {
		sqliteStore, err := transcript.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			log.Fatal("Failed to open transcript store", zap.Error(err))
		}
		store = sqliteStore
		log.Info("Opened sqlite transcript store", zap.String("path", cfg.Storage.Path))
	} else {
		store = transcript.NewMemoryStore()
	}
	defer store.Close()

	// 5. Node runtime detection
	detector := node.NewDetector(cfg.Node, log)
	detectCtx, detectCancel := context.WithTimeout(context.Background(), cfg.Node.DetectTimeoutDuration())
	if path, version, err := detector.FindNodeExecutable(detectCtx); err != nil {
		log.Warn("Node runtime not found at startup, will retry per command", zap.Error(err))
	} else {
		log.Info("Detected Node runtime", zap.String("path", path), zap.String("version", version))
		announce := bus.NewEvent(events.NodeDetected, "bridge-manager", map[string]interface{}{
			"path":    path,
			"version": version,
		})
		if err := eventBus.Publish(detectCtx, events.NodeDetected, announce); err != nil {
			log.Warn("Failed to publish node detection event", zap.Error(err))
		}
	}
	detectCancel()

	// 6. Process supervisor
	supervisor := proc.NewSupervisor(cfg.Bridge.InterruptGraceDuration(), log)

	// 7. Message dispatcher and websocket hub. The hub doubles as the
	// dialog notifier, so it exists before the arbiter.
	dispatcher := dispatch.NewDispatcher(log)
	hub := websocket.NewHub(dispatcher, eventBus, log)

	// 8. Dialog arbiter
	arbiter := permission.NewArbiter(hub, cfg.Permission.DialogTimeoutDuration(), nil, log)

	// 9. Bridge runner and channel manager
	bridge := sdk.NewBridge(cfg.Bridge, detector, supervisor, log)
	manager := sdk.NewManager(bridge, bridge, supervisor, arbiter, store, eventBus, log)

	dispatcher.Register(dispatch.NewChannelHandler(manager))
	dispatcher.Register(dispatch.NewDecisionHandler(arbiter))

	if err := hub.Start(); err != nil {
		log.Fatal("Failed to start websocket hub", zap.Error(err))
	}

	// 10. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// 11. Register API routes
	v1 := router.Group("/api/v1")
	api.SetupRoutes(v1, manager, arbiter, detector, log)

	router.GET("/ws", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": hub.ClientCount(),
		})
	})

	// 12. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 13. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 14. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Bridge Manager service...")

	// 15. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	hub.Stop()
	manager.Shutdown()

	log.Info("Bridge Manager service stopped")
}
