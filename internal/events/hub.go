package events

import (
	"encoding/json"
	"sync"

	"soradesk/internal/infra"
)

// Hub maintains the set of connected UI clients and fans event envelopes out
// to all of them. The app is single-user, so there is no per-client routing;
// every client sees every event.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	logger *infra.Logger
	mu     sync.RWMutex
}

// Envelope is the wire form of every pushed event.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(logger *infra.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		logger:     logger,
	}
}

// Run drives the hub's register/unregister/broadcast loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client stopped draining; drop it rather than
					// blocking every other client.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast encodes an envelope and queues it for every connected client.
// Events are best-effort; the HTTP API remains the source of truth.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	raw, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", eventType).Msg("events: failed to encode envelope")
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.logger.Warn().Str("event", eventType).Msg("events: broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
