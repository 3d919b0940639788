// Package gateway manages agent WebSocket connections: registration,
// heartbeat tracking, stale-connection eviction, and delivery of
// outbound commands.
package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

// minStaleInterval is the floor for a connection's stale timeout
// regardless of the agent's reported update interval.
const minStaleInterval = 15 * time.Second

// staleMultiplier is how many missed update intervals are tolerated
// before a connection is considered stale.
const staleMultiplier = 3

// AgentConnection is one agent's live WebSocket connection.
type AgentConnection struct {
	SystemID         string
	AgentID          string
	Conn             *websocket.Conn
	Platform         string
	UpdateIntervalMs int
	LastPing         time.Time
	Send             chan []byte
	Mutex            sync.RWMutex
}

func (c *AgentConnection) staleAfter() time.Duration {
	d := time.Duration(c.UpdateIntervalMs) * time.Millisecond * staleMultiplier
	if d < minStaleInterval {
		return minStaleInterval
	}
	return d
}

// Event is an agent lifecycle notification, consumed in cmd/main.go to
// update the registry and notify the broadcast publisher.
type Event struct {
	Type     string // agentOnline, agentOffline
	SystemID string
	AgentID  string
}

const (
	EventAgentOnline  = "agentOnline"
	EventAgentOffline = "agentOffline"
)

// Hub is the central registry of connected agents.
type Hub struct {
	connections map[string]*AgentConnection // keyed by AgentID
	mutex       sync.RWMutex

	register   chan *AgentConnection
	unregister chan string

	database *store.Database
	events   chan Event
	stopChan chan struct{}
}

// NewHub creates a Hub. Call Run in a goroutine to start its event loop.
// Events is a channel the caller should drain (aggregator/broadcast wiring).
func NewHub(database *store.Database, events chan Event) *Hub {
	return &Hub{
		connections: make(map[string]*AgentConnection),
		register:    make(chan *AgentConnection, 16),
		unregister:  make(chan string, 16),
		database:    database,
		events:      events,
		stopChan:    make(chan struct{}),
	}
}

// Run is the hub's main event loop. Blocks until Stop is called.
func (h *Hub) Run() {
	logger.Gateway().Info().Msg("starting gateway event loop")

	staleTicker := time.NewTicker(5 * time.Second)
	defer staleTicker.Stop()

	for {
		select {
		case conn := <-h.register:
			h.handleRegister(conn)

		case agentID := <-h.unregister:
			h.handleUnregister(agentID)

		case <-staleTicker.C:
			h.checkStaleConnections()

		case <-h.stopChan:
			logger.Gateway().Info().Msg("stopping gateway event loop")
			return
		}
	}
}

// Stop signals Run to exit.
func (h *Hub) Stop() { close(h.stopChan) }

func (h *Hub) handleRegister(conn *AgentConnection) {
	h.mutex.Lock()
	if existing, ok := h.connections[conn.AgentID]; ok {
		logger.Gateway().Warn().Msgf("agent %s already connected, closing old connection", conn.AgentID)
		close(existing.Send)
		existing.Conn.Close()
	}
	h.connections[conn.AgentID] = conn
	total := len(h.connections)
	h.mutex.Unlock()

	logger.Gateway().Info().Msgf("registered agent %s (platform %s), total connections: %d", conn.AgentID, conn.Platform, total)

	if err := h.database.SetSystemStatus(conn.SystemID, models.SystemStatusOnline); err != nil {
		logger.Gateway().Error().Msgf("updating system status online for %s: %v", conn.AgentID, err)
	}

	h.emit(Event{Type: EventAgentOnline, SystemID: conn.SystemID, AgentID: conn.AgentID})
}

func (h *Hub) handleUnregister(agentID string) {
	h.mutex.Lock()
	conn, ok := h.connections[agentID]
	if !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.connections, agentID)
	remaining := len(h.connections)
	h.mutex.Unlock()

	close(conn.Send)
	conn.Conn.Close()

	logger.Gateway().Info().Msgf("unregistered agent %s, remaining connections: %d", agentID, remaining)

	if err := h.database.SetSystemStatus(conn.SystemID, models.SystemStatusOffline); err != nil {
		logger.Gateway().Error().Msgf("updating system status offline for %s: %v", agentID, err)
	}

	h.emit(Event{Type: EventAgentOffline, SystemID: conn.SystemID, AgentID: agentID})
}

func (h *Hub) checkStaleConnections() {
	h.mutex.RLock()
	now := time.Now()
	var stale []string
	for agentID, conn := range h.connections {
		conn.Mutex.RLock()
		lastPing := conn.LastPing
		conn.Mutex.RUnlock()

		if now.Sub(lastPing) > conn.staleAfter() {
			stale = append(stale, agentID)
		}
	}
	h.mutex.RUnlock()

	for _, agentID := range stale {
		logger.Gateway().Warn().Msgf("stale connection detected for agent %s", agentID)
		h.unregister <- agentID
	}
}

func (h *Hub) emit(e Event) {
	if h.events == nil {
		return
	}
	select {
	case h.events <- e:
	default:
		logger.Gateway().Warn().Msgf("event channel full, dropping %s for %s", e.Type, e.AgentID)
	}
}

// RegisterAgent enqueues a new connection for registration.
func (h *Hub) RegisterAgent(conn *AgentConnection) error {
	if conn.AgentID == "" {
		return fmt.Errorf("agent_id cannot be empty")
	}
	if conn.Conn == nil {
		return fmt.Errorf("websocket connection cannot be nil")
	}
	h.register <- conn
	return nil
}

// UnregisterAgent enqueues a disconnection.
func (h *Hub) UnregisterAgent(agentID string) {
	h.unregister <- agentID
}

// IsAgentConnected reports whether an agent currently has a live connection.
func (h *Hub) IsAgentConnected(agentID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.connections[agentID]
	return ok
}

// GetConnection returns the live connection for an agent, or nil.
func (h *Hub) GetConnection(agentID string) *AgentConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connections[agentID]
}

// UpdateAgentHeartbeat refreshes LastPing and persists last_seen_at.
func (h *Hub) UpdateAgentHeartbeat(agentID string) error {
	h.mutex.RLock()
	conn, ok := h.connections[agentID]
	h.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("agent %s is not connected", agentID)
	}

	conn.Mutex.Lock()
	conn.LastPing = time.Now()
	conn.Mutex.Unlock()

	return h.database.TouchSystemHeartbeat(conn.SystemID)
}

// SendEnvelope marshals and delivers an envelope to one agent's send channel.
func (h *Hub) SendEnvelope(agentID string, msgType string, payload interface{}) error {
	h.mutex.RLock()
	conn, ok := h.connections[agentID]
	h.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("agent %s is not connected", agentID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	env := models.AgentEnvelope{Type: msgType, Timestamp: time.Now(), Payload: payloadBytes}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	select {
	case conn.Send <- envBytes:
		return nil
	default:
		return fmt.Errorf("agent %s send buffer is full", agentID)
	}
}
