package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chanbridge/chanbridge/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
)

// Client is one connected presentation-layer peer.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	mu       sync.RWMutex
	closed   bool
	channels map[string]bool
	logger   *logger.Logger
}

// inboundFrame is the envelope clients send. Subscription management is
// handled here; everything else goes to the dispatcher.
type inboundFrame struct {
	Action     string   `json:"action,omitempty"` // subscribe, unsubscribe
	ChannelIDs []string `json:"channel_ids,omitempty"`
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Warn("Invalid inbound frame", zap.Error(err))
			continue
		}

		switch frame.Action {
		case "subscribe":
			for _, channelID := range frame.ChannelIDs {
				c.Subscribe(channelID)
			}
		case "unsubscribe":
			for _, channelID := range frame.ChannelIDs {
				c.Unsubscribe(channelID)
			}
		case "":
			// Not a subscription frame; route through the dispatcher
			if err := c.hub.dispatcher.Dispatch(context.Background(), message); err != nil {
				c.logger.Warn("Message dispatch failed", zap.Error(err))
			}
		default:
			c.logger.Warn("Unknown action", zap.String("action", frame.Action))
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send sends a message to the client
func (c *Client) Send(msg []byte) bool {
	// The read lock excludes closeSend, so the channel cannot close
	// between the check and the send
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel exactly once, after any in-flight
// Send has released the lock.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Subscribe subscribes the client to a channel
func (c *Client) Subscribe(channelID string) {
	c.mu.Lock()
	c.channels[channelID] = true
	c.mu.Unlock()
	c.hub.SubscribeClient(c, channelID)
	c.logger.Debug("Subscribed to channel", zap.String("channel_id", channelID))
}

// Unsubscribe unsubscribes the client from a channel
func (c *Client) Unsubscribe(channelID string) {
	c.mu.Lock()
	delete(c.channels, channelID)
	c.mu.Unlock()
	c.hub.UnsubscribeClient(c, channelID)
	c.logger.Debug("Unsubscribed from channel", zap.String("channel_id", channelID))
}

// IsSubscribed returns true if the client is subscribed to a channel
func (c *Client) IsSubscribed(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channelID]
}
