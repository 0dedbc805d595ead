// Package main provides the local WebSocket control channel between the UI
// shell and the offline core.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ticketnest/core/internal/cache"
	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/syncq"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only allow connections from localhost
		return r.Host == "localhost" || r.Host == "localhost:8090"
	},
}

// Control message types. Inbound messages come from the UI shell; outbound
// broadcasts report terminal sync resolutions.
const (
	// Inbound
	MsgSkipWaiting = "SKIP_WAITING" // activate the newly installed core version immediately
	MsgCacheRoute  = "CACHE_ROUTE"  // register an additional cacheable API route
	MsgClearCache  = "CLEAR_CACHE"  // drop all cached responses
	MsgSyncNow     = "SYNC_NOW"     // trigger an immediate queue drain

	// Outbound
	MsgSyncSuccess       = "SYNC_SUCCESS"
	MsgSyncFailed        = "SYNC_FAILED"
	MsgNotificationFired = "NOTIFICATION_FIRED"
)

// WSEnvelope wraps all control-channel messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// WSClient represents a connected UI shell.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub maintains shell connections, dispatches inbound control messages to
// the core components, and broadcasts sync resolutions.
type WSHub struct {
	engine  *cache.Engine
	manager *syncq.Manager

	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
	stopped    chan struct{}

	// onSkipWaiting is invoked when the shell requests immediate activation
	// of a newly installed core version.
	onSkipWaiting func()
}

// NewWSHub creates the control hub and starts its dispatch loop. The loop
// runs until the context is cancelled.
func NewWSHub(ctx context.Context, engine *cache.Engine, manager *syncq.Manager, onSkipWaiting func()) *WSHub {
	hub := &WSHub{
		engine:        engine,
		manager:       manager,
		clients:       make(map[string]*WSClient),
		broadcast:     make(chan []byte, 256),
		register:      make(chan *WSClient),
		unregister:    make(chan *WSClient),
		stopped:       make(chan struct{}),
		onSkipWaiting: onSkipWaiting,
	}
	go hub.run(ctx)
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("Control client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("Control client disconnected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, close connection
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a typed message to every connected shell.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal control message", err, nil)
		return
	}

	h.broadcast <- bytes
}

// ForwardResolutions consumes the manager's terminal-resolution stream and
// broadcasts each as SYNC_SUCCESS or SYNC_FAILED until the context is
// cancelled.
func (h *WSHub) ForwardResolutions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-h.manager.Resolutions():
			data := map[string]interface{}{
				"operation_id": r.Operation.ID.String(),
				"type":         string(r.Operation.Type),
				"url":          r.URL,
				"status":       r.Status,
			}
			if r.Outcome == syncq.OutcomeSynced {
				h.Broadcast(MsgSyncSuccess, data)
			} else {
				data["error"] = r.Error
				h.Broadcast(MsgSyncFailed, data)
			}
		}
	}
}

// handleMessage dispatches one inbound control message.
func (h *WSHub) handleMessage(ctx context.Context, raw []byte) {
	var msg WSEnvelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		logging.Warn("Invalid control message", map[string]interface{}{"error": err.Error()})
		return
	}

	switch msg.Type {
	case MsgSkipWaiting:
		if h.onSkipWaiting != nil {
			h.onSkipWaiting()
		}

	case MsgCacheRoute:
		path, _ := msg.Data["path"].(string)
		if path == "" {
			logging.Warn("CACHE_ROUTE without path", nil)
			return
		}
		h.engine.AddCacheRoute(path)

	case MsgClearCache:
		if err := h.engine.ClearCache(ctx); err != nil {
			logging.Error("Failed to clear response cache", err, nil)
		}

	case MsgSyncNow:
		h.manager.TriggerDrain(ctx)

	default:
		logging.Warn("Unknown control message type",
			map[string]interface{}{"type": msg.Type})
	}
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("Control read error", map[string]interface{}{"error": err.Error()})
			}
			break
		}
		c.hub.handleMessage(ctx, message)
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades an HTTP request into a control-channel connection.
func HandleWebSocket(ctx context.Context, hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("Failed to upgrade control connection", err, nil)
			return
		}

		clientID := time.Now().Format("20060102150405") + "-" + r.RemoteAddr

		client := &WSClient{
			id:   clientID,
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump(ctx)
	}
}
