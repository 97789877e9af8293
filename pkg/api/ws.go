package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPingInterval   = 30 * time.Second
	wsSendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// Operator dashboards run on their own origins.
		return true
	},
}

// Hub fans fired alerts out to connected WebSocket clients. Slow clients get
// dropped rather than backing up the manager.
type Hub struct {
	log          *zap.Logger
	pingInterval time.Duration
	mu           sync.RWMutex
	clients      map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		log:          logger,
		pingInterval: wsPingInterval,
		clients:      make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is canceled, then closes every connection. Keepalive
// pings are sent from each client's writer so the connection only ever has
// one writing goroutine.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// BroadcastAlert pushes one fired alert to every connected client.
func (h *Hub) BroadcastAlert(alert models.AlertInstance) {
	payload, err := json.Marshal(map[string]any{
		"type":  "alert",
		"alert": alert,
	})
	if err != nil {
		h.log.Error("failed to marshal alert for broadcast", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Client is not draining its buffer; let its writer exit.
			close(c.send)
			delete(h.clients, c)

			_ = c.conn.Close()
		}
	}
}

// ServeWS upgrades the connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

// writePump is the sole writer for a connection; broadcast payloads and
// keepalive pings both go through it.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(h.pingInterval)

	defer func() {
		ticker.Stop()

		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to notice
// closed connections promptly.
func (h *Hub) readPump(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}

	_ = c.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)

		_ = c.conn.Close()
	}
}
