package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"agent-console-be/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const clusterChannel = "relay_events"

// Frame is one observer notification: a changed slice of a session's state.
type Frame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Slice     string      `json:"slice"`
	Data      interface{} `json:"data,omitempty"`
}

// Slice names observers can subscribe to.
const (
	SliceMessages = "messages"
	SliceStream   = "stream"
	SliceTimeline = "timeline"
	SliceError    = "error"
	SliceSessions = "sessions"
)

// Hub fans session-slice updates out to subscribed websocket clients.
// Sessions stream independently; a client only receives frames for the
// session and slices it subscribed to.
type Hub struct {
	// Registered clients map: SessionID -> clients observing it.
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Redis connection for cross-instance fanout.
	rdb *redis.Client

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Observer registered", map[string]interface{}{
				"session_id": client.SessionID,
				"slices":     client.SliceNames(),
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.SessionID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.SessionID]) == 0 {
					delete(h.clients, client.SessionID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify pushes a slice update to every local observer of the session and
// republishes it for other instances.
func (h *Hub) Notify(sessionID, slice string, data interface{}) {
	frame := Frame{
		Type:      "relay_update",
		SessionID: sessionID,
		Slice:     slice,
		Data:      data,
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Hub", "Failed to marshal frame", map[string]interface{}{"error": err.Error()})
		return
	}

	h.deliverLocal(sessionID, slice, raw)

	if h.rdb != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"session_id": sessionID,
			"slice":      slice,
			"frame":      json.RawMessage(raw),
		})
		h.rdb.Publish(context.Background(), clusterChannel, payload)
	}
}

func (h *Hub) deliverLocal(sessionID, slice string, raw []byte) {
	h.mu.RLock()
	clients := h.clients[sessionID]
	var dropped []*Client
	for _, client := range clients {
		if !client.WantsSlice(slice) {
			continue
		}
		select {
		case client.Send <- raw:
		default:
			h.logger.Warn("Hub", "Observer send buffer full, dropping client", map[string]interface{}{
				"session_id": sessionID,
			})
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dropped {
		h.unregister <- client
	}
}

func (h *Hub) subscribeToRedis() {
	// Every instance subscribes to the shared channel and delivers only to
	// sessions it has local observers for.
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var payload struct {
			SessionID string          `json:"session_id"`
			Slice     string          `json:"slice"`
			Frame     json.RawMessage `json:"frame"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Printf("Redis msg parse error: %v", err)
			continue
		}

		h.mu.RLock()
		_, ok := h.clients[payload.SessionID]
		h.mu.RUnlock()
		if ok {
			h.deliverLocal(payload.SessionID, payload.Slice, payload.Frame)
		}
	}
}
