package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/wabridge/pkg/logger"
)

// WSEvent is one frame sent to WebSocket clients.
type WSEvent struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans relay events out to connected WebSocket clients.
type WSHub struct {
	state      func() map[string]interface{}
	upgrader   websocket.Upgrader
	clients    map[*WSClient]bool
	broadcast  chan WSEvent
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a hub. state supplies the initial and periodic status
// frames; origins extends the localhost allow list for upgrades.
func NewWSHub(state func() map[string]interface{}, origins []string) *WSHub {
	h := &WSHub{
		state:      state,
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSEvent, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || isAllowedOrigin(origin, origins) {
				return true
			}
			logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
			return false
		},
	}
	return h
}

func (h *WSHub) Run(ctx context.Context) {
	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.DebugC("ws", "Client connected")
			h.sendInitialState(client)

		case client := <-h.unregister:
			h.remove(client)
			logger.DebugC("ws", "Client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Too slow; drop the client.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-statusTicker.C:
			if h.ClientCount() > 0 {
				h.Broadcast("status_update", h.state())
			}
		}
	}
}

func (h *WSHub) remove(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast queues an event for all clients. Drops when the queue is full.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	event := WSEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	select {
	case h.broadcast <- event:
	default:
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request. Authentication already happened in
// authMiddleware.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *WSHub) sendInitialState(client *WSClient) {
	data, err := json.Marshal(WSEvent{
		Type:      "initial_state",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      h.state(),
	})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// --- Client methods ---

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
