// Package websocket bridges the event bus and the message dispatcher to
// presentation-layer clients over a websocket connection.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/bridge/dispatch"
	"github.com/chanbridge/chanbridge/internal/common/logger"
	"github.com/chanbridge/chanbridge/internal/events"
	"github.com/chanbridge/chanbridge/internal/events/bus"
	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Local IDE-companion deployment; the HTTP API is not exposed
		// beyond loopback by default
		return true
	},
}

// Hub tracks connected clients and their channel subscriptions, fanning
// out bus events and routing inbound messages to the dispatcher.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	byChannel map[string]map[*Client]bool

	dispatcher *dispatch.Dispatcher
	eventBus   bus.EventBus
	subs       []bus.Subscription
	logger     *logger.Logger
}

// NewHub creates a Hub.
func NewHub(dispatcher *dispatch.Dispatcher, eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byChannel:  make(map[string]map[*Client]bool),
		dispatcher: dispatcher,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "ws-hub")),
	}
}

// Start subscribes the hub to the bus subjects presentation clients
// care about.
func (h *Hub) Start() error {
	subjects := []string{
		events.BuildChannelStreamWildcardSubject(),
		events.BuildPermissionRequestWildcardSubject(),
		events.BuildChannelWildcardSubject(events.QuestionRequested),
		events.BuildChannelWildcardSubject(events.PlanRequested),
		events.BuildTranscriptWildcardSubject(),
		events.ChannelStarted,
		events.ChannelCompleted,
		events.ChannelFailed,
		events.ChannelInterrupted,
		events.ChannelRestarted,
		events.ChannelRewound,
		events.PermissionResolved,
		events.QuestionAnswered,
		events.PlanResolved,
	}

	for _, subject := range subjects {
		sub, err := h.eventBus.Subscribe(subject, h.relayEvent)
		if err != nil {
			return err
		}
		h.subs = append(h.subs, sub)
	}
	return nil
}

// Stop unsubscribes from the bus and disconnects all clients.
func (h *Hub) Stop() {
	for _, sub := range h.subs {
		_ = sub.Unsubscribe()
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]bool)
	h.byChannel = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}

// relayEvent forwards one bus event to interested clients. Events that
// carry a channel id go to that channel's subscribers; the rest are
// broadcast.
func (h *Hub) relayEvent(_ context.Context, event *bus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if channelID := channelIDOf(event); channelID != "" {
		h.BroadcastToChannel(channelID, payload)
		return nil
	}
	h.Broadcast(payload)
	return nil
}

func channelIDOf(event *bus.Event) string {
	switch data := event.Data.(type) {
	case map[string]interface{}:
		if id, ok := data["channel_id"].(string); ok {
			return id
		}
	case v1.CommandResult:
		return data.ChannelID
	case *v1.TranscriptEntry:
		return data.ChannelID
	}
	return ""
}

// ServeWS upgrades an HTTP request and runs the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]bool),
		logger:   h.logger,
	}
	h.register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Debug("Client connected")
}

// Unregister removes a client and its subscriptions.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for channelID, subs := range h.byChannel {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byChannel, channelID)
		}
	}
	h.mu.Unlock()

	c.closeSend()
	h.logger.Debug("Client disconnected")
}

// SubscribeClient adds a client to a channel's subscriber set.
func (h *Hub) SubscribeClient(c *Client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byChannel[channelID] == nil {
		h.byChannel[channelID] = make(map[*Client]bool)
	}
	h.byChannel[channelID][c] = true
}

// UnsubscribeClient removes a client from a channel's subscriber set.
func (h *Hub) UnsubscribeClient(c *Client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.byChannel[channelID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byChannel, channelID)
		}
	}
}

// BroadcastToChannel sends a message to the channel's subscribers.
// Clients with a full send buffer are skipped, not blocked on.
func (h *Hub) BroadcastToChannel(channelID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byChannel[channelID]))
	for c := range h.byChannel[channelID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(msg) {
			h.logger.Warn("Dropping message for slow client",
				zap.String("channel_id", channelID))
		}
	}
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(msg) {
			h.logger.Warn("Dropping broadcast for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
