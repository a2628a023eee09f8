// Package realtime pushes fired alerts to a user's live browser/app
// connection over WebSocket: the Realtime half of the Trigger Sink
// (component J, §4.J step 2).
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message types exchanged over the realtime socket.
const (
	MessageTypeAlertTriggered = "alertTriggered"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeError          = "error"
)

// Message is the envelope every frame uses.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is one connected user session. Unlike the teacher's symbol-
// subscribed websocket client, a realtime client is scoped to a single
// authenticated user and receives every alert fired for that user.
type Client struct {
	ID     string
	UserID int64
	Send   chan []byte
}

// Hub maintains connected clients indexed by user id and fans out
// per-user pushes. Grounded on the teacher's internal/websocket.Hub
// register/unregister/broadcast channel shape, generalized from a
// symbol index to a user index.
type Hub struct {
	clients    map[*Client]bool
	byUser     map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// Run drives the hub's register/unregister/ping loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[*Client]bool)
			h.byUser = make(map[int64]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.UserID] == nil {
				h.byUser[client.UserID] = make(map[*Client]bool)
			}
			h.byUser[client.UserID][client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("realtime client registered", slog.String("clientId", client.ID), slog.Int64("userId", client.UserID))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if set, exists := h.byUser[client.UserID]; exists {
					delete(set, client)
					if len(set) == 0 {
						delete(h.byUser, client.UserID)
					}
				}
				close(client.Send)
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.pingAll()
		}
	}
}

func (h *Hub) pingAll() {
	msg, _ := json.Marshal(Message{Type: MessageTypePing})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- msg:
		default:
		}
	}
}

// PublishToUser sends a message frame to every connection belonging to
// userID. Non-blocking: a full client buffer drops the frame rather than
// stalling the caller, matching §5's "tick-based and tolerates loss".
func (h *Hub) PublishToUser(userID int64, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byUser[userID] {
		select {
		case client.Send <- msg:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
