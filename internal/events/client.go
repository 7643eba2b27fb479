package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"soradesk/internal/infra"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one websocket connection to the UI.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Handler upgrades HTTP requests to websocket connections and attaches them
// to the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *infra.Logger
}

// NewHandler builds a websocket handler. allowedOrigins is the set of UI
// origins permitted to connect; the sidecar only ever talks to the local
// desktop shell, so the list is small and exact.
func NewHandler(hub *Hub, allowedOrigins []string, logger *infra.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin header.
				return origin == "" || allowed[origin]
			},
		},
	}
}

// ServeWS handles a websocket connect request from the UI.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("events: websocket upgrade failed")
		return
	}

	client := &Client{hub: h.hub, conn: conn, send: make(chan []byte, 32)}
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; the event stream is one-way. It exists
// to process control messages and detect closed connections.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
