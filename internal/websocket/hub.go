package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/trivia-live/internal/domain"
)

// Message types
const (
	MessageTypeSessionUpdate = "session_update"
	MessageTypePlayerJoin    = "player_join"
	MessageTypePlayerUpdate  = "player_update"
	MessageTypePlayerLeave   = "player_leave"
	MessageTypeSubscribe     = "subscribe"
	MessageTypeUnsubscribe   = "unsubscribe"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Subscriber roles. Every role receives the same session stream; the
// role is carried for connection stats and diagnostics.
const (
	RoleHost    = "host"
	RolePlayer  = "player"
	RoleDisplay = "display"
)

// ValidRole reports whether role names a known subscriber role
func ValidRole(role string) bool {
	switch role {
	case RoleHost, RolePlayer, RoleDisplay:
		return true
	}
	return false
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts messages.
// Clients subscribe to a session and receive every accepted state
// update for it, whatever their role (host console, phone player, or
// shared display).
type Hub struct {
	// Session subscribers and their role
	clients map[string]map[*Client]string

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound messages from clients
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client    *Client
	sessionID string
	role      string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]string),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all session subscriptions
				for sessionID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, sessionID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.sessionID]; !ok {
				h.clients[req.sessionID] = make(map[*Client]string)
			}
			h.clients[req.sessionID][req.client] = req.role
			h.mu.Unlock()
			h.logger.Debug("client subscribed",
				"client_id", req.client.id, "session_id", req.sessionID, "role", req.role)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.sessionID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.sessionID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "session_id", req.sessionID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// If message has a session ID, only send to subscribed clients
	if message.SessionID != "" {
		if clients, ok := h.clients[message.SessionID]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		// Broadcast to all clients
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// BroadcastSessionUpdate sends an accepted session snapshot to all
// clients watching the session
func (h *Hub) BroadcastSessionUpdate(sessionID string, session *domain.Session) {
	message := &Message{
		Type:      MessageTypeSessionUpdate,
		SessionID: sessionID,
		Data:      session,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastPlayerEvent sends a player join/update/leave notification
func (h *Hub) BroadcastPlayerEvent(messageType, sessionID string, player *domain.Player) {
	message := &Message{
		Type:      messageType,
		SessionID: sessionID,
		Data:      player,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a session subscription under the given
// role. Resubscribing updates the role.
func (h *Hub) Subscribe(client *Client, sessionID, role string) {
	h.subscribe <- &subscriptionRequest{
		client:    client,
		sessionID: sessionID,
		role:      role,
	}
}

// Unsubscribe removes a client from a session subscription
func (h *Hub) Unsubscribe(client *Client, sessionID string) {
	h.unsubscribe <- &subscriptionRequest{
		client:    client,
		sessionID: sessionID,
	}
}

// GetSubscriberCount returns the number of subscribers for a session
func (h *Hub) GetSubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[sessionID]; ok {
		return len(clients)
	}
	return 0
}

// GetRoleCounts returns a session's subscribers broken down by role
func (h *Hub) GetRoleCounts(sessionID string) map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int)
	for _, role := range h.clients[sessionID] {
		counts[role]++
	}
	return counts
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
