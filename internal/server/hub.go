package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"openfms/framekit/internal/protocol"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
)

// wsEvent is the envelope sent to monitor clients
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsClient is one frame monitor connection. Empty filters match everything.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	sessionID string
	protocol  string
}

func (c *wsClient) wants(sessionID, proto string) bool {
	if c.sessionID != "" && c.sessionID != sessionID {
		return false
	}
	if c.protocol != "" && c.protocol != proto {
		return false
	}
	return true
}

type broadcast struct {
	sessionID string
	protocol  string
	data      []byte
}

// Hub fans extracted frames and session events out to WebSocket monitor clients
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan broadcast
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// Run is the hub's event loop; it returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Str("client", c.id).Int("clients", n).Msg("Client connected")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*wsClient
			for c := range h.clients {
				if !c.wants(msg.sessionID, msg.protocol) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.log.Warn().Str("client", c.id).Msg("Client send buffer full, dropping client")
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Str("client", c.id).Int("clients", n).Msg("Client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// Publish queues a frame for monitor clients without blocking the caller
func (h *Hub) Publish(msg protocol.FrameMessage) {
	if h == nil {
		return
	}
	h.send("frame", msg.SessionID, msg.Protocol, msg)
}

// PublishSession queues a session lifecycle event for monitor clients
func (h *Hub) PublishSession(evt SessionEvent) {
	if h == nil {
		return
	}
	h.send(evt.Type, evt.SessionID, evt.Protocol, evt)
}

func (h *Hub) send(typ, sessionID, proto string, payload any) {
	data, err := json.Marshal(wsEvent{Type: typ, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("type", typ).Msg("Failed to marshal event")
		return
	}
	select {
	case h.broadcast <- broadcast{sessionID: sessionID, protocol: proto, data: data}:
	default:
		h.log.Warn().Str("session", sessionID).Str("type", typ).Msg("Broadcast queue full, dropping event")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle upgrades a request to a frame monitor connection.
// Query parameters session_id and protocol narrow the stream.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &wsClient{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
		sessionID: c.Query("session_id"),
		protocol:  c.Query("protocol"),
	}

	welcome, _ := json.Marshal(wsEvent{Type: "connected", Data: gin.H{"client_id": client.id}})
	client.send <- welcome

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("client", c.id).Msg("Read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
