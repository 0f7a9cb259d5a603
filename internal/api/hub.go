// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/netinstall/internal/events"
	"grimm.is/netinstall/internal/logging"
)

const (
	// DefaultClientBuffer is how many events a client may lag behind before
	// it is dropped.
	DefaultClientBuffer = 32

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type hubClient struct {
	conn   *websocket.Conn
	remote string
	send   chan events.Event
}

// Hub forwards events to every connected websocket client. It implements
// events.Sender; Send never blocks on a client.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger
	buffer   int

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

// NewHub creates a hub. A buffer of zero or less uses DefaultClientBuffer.
func NewHub(logger *logging.Logger, buffer int) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger.WithComponent("events-hub"),
		buffer:  buffer,
		clients: make(map[*hubClient]struct{}),
	}
}

// Send queues e for every client. Clients whose queue is full are dropped.
func (h *Hub) Send(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Warn("Dropping slow websocket client", "remote", c.remote)
			h.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or is dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	c := &hubClient{conn: conn, remote: conn.RemoteAddr().String(), send: make(chan events.Event, h.buffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Websocket client connected", "remote", c.remote)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for the client going away; clients send nothing.
func (h *Hub) readPump(c *hubClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}
