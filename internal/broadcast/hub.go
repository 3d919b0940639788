// Package broadcast serves live system state to browser subscribers:
// it accepts subscribe/unsubscribe/requestFullSync messages, computes
// per-subscriber deltas against the last state each client was sent,
// and pushes full syncs on demand and on a five-minute cadence.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// subscribeAll is the sentinel subscription meaning "every system".
const subscribeAll = "all"

// Client is one browser's WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu            sync.Mutex
	subscriptions map[string]bool
	baselines     map[string]*models.DataPayload
}

func (c *Client) isSubscribed(systemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[subscribeAll] || c.subscriptions[systemID]
}

// Hub tracks every connected browser client.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
}

// NewHub creates an empty Hub. Call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's registration loop. Blocks; run in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logger.Broadcast().Info().Int("clients", total).Msg("subscriber connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logger.Broadcast().Info().Int("clients", total).Msg("subscriber disconnected")
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

func (c *Client) readPump(onFullSyncRequest func(client *Client, systemID string)) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env models.ClientEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}

		switch env.Type {
		case models.ClientMsgSubscribe:
			var sub models.SubscribePayload
			if err := json.Unmarshal(env.Payload, &sub); err == nil {
				c.mu.Lock()
				c.subscriptions[sub.AgentID] = true
				c.mu.Unlock()
				if onFullSyncRequest != nil {
					onFullSyncRequest(c, sub.AgentID)
				}
			}

		case models.ClientMsgUnsubscribe:
			var sub models.SubscribePayload
			if err := json.Unmarshal(env.Payload, &sub); err == nil {
				c.mu.Lock()
				delete(c.subscriptions, sub.AgentID)
				delete(c.baselines, sub.AgentID)
				c.mu.Unlock()
			}

		case models.ClientMsgRequestFullSync:
			var sub models.SubscribePayload
			if err := json.Unmarshal(env.Payload, &sub); err == nil && onFullSyncRequest != nil {
				onFullSyncRequest(c, sub.AgentID)
			}
		}
	}
}

// ServeClient upgrades and registers a new browser subscriber.
func (h *Hub) ServeClient(conn *websocket.Conn, clientID string, onFullSyncRequest func(client *Client, systemID string)) {
	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            clientID,
		subscriptions: make(map[string]bool),
		baselines:     make(map[string]*models.DataPayload),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(onFullSyncRequest)
}
