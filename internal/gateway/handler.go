package gateway

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/anexgohan/pankha/internal/auth"
	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

// errAuthTokenMismatch is returned when a re-registering agent's token
// doesn't match the hash recorded for its existing system row. First
// contact is permissive (no row exists yet to compare against); every
// re-registration after that is not.
var errAuthTokenMismatch = errors.New("agent auth token does not match existing registration")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB
)

// Handler upgrades HTTP connections to WebSocket and drives the
// register/data/commandResponse protocol for each agent.
type Handler struct {
	hub      *Hub
	database *store.Database
	upgrader websocket.Upgrader

	// OnData and OnCommandResponse are invoked from the connection's
	// read goroutine for every data push and command acknowledgement.
	// Wired by cmd/main.go to the aggregator and dispatcher.
	OnData            func(models.DataPayload)
	OnCommandResponse func(systemID string, r models.CommandResponsePayload)
}

// NewHandler creates a Handler bound to a Hub and the backing store.
func NewHandler(hub *Hub, database *store.Database) *Handler {
	return &Handler{
		hub:      hub,
		database: database,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the agent WebSocket upgrade endpoint.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/agents/connect", h.HandleAgentConnection)
}

// HandleAgentConnection upgrades the connection and waits for the
// agent's register message before admitting it to the hub. Unlike a
// pre-provisioned-agent model, a system row is created here on first
// contact rather than required to already exist.
func (h *Handler) HandleAgentConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Gateway().Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	_, firstMsg, err := conn.ReadMessage()
	if err != nil {
		logger.Gateway().Warn().Err(err).Msg("connection closed before register")
		conn.Close()
		return
	}

	var env models.AgentEnvelope
	if err := json.Unmarshal(firstMsg, &env); err != nil || env.Type != models.AgentMsgRegister {
		logger.Gateway().Warn().Msg("first message was not a register envelope")
		conn.Close()
		return
	}

	var reg models.RegisterPayload
	if err := json.Unmarshal(env.Payload, &reg); err != nil || reg.AgentID == "" {
		logger.Gateway().Warn().Msg("invalid register payload")
		conn.Close()
		return
	}

	sys, err := h.admitSystem(reg)
	if err != nil {
		logger.Gateway().Error().Err(err).Str("agentId", reg.AgentID).Msg("failed to admit system")
		conn.Close()
		return
	}

	agentConn := &AgentConnection{
		SystemID:         sys.ID,
		AgentID:          sys.AgentID,
		Conn:             conn,
		Platform:         reg.Platform,
		UpdateIntervalMs: sys.UpdateIntervalMs,
		LastPing:         time.Now(),
		Send:             make(chan []byte, 256),
	}

	if err := h.hub.RegisterAgent(agentConn); err != nil {
		logger.Gateway().Error().Err(err).Msg("failed to register connection")
		conn.Close()
		return
	}

	h.sendRegistered(agentConn)

	go h.writePump(agentConn)
	go h.readPump(agentConn)
}

func (h *Handler) admitSystem(reg models.RegisterPayload) (*models.System, error) {
	existing, lookupErr := h.database.GetSystemByAgentID(reg.AgentID)

	tokenHash := ""
	name := reg.AgentName
	if name == "" {
		name = reg.Hostname
	}
	if lookupErr == nil && existing != nil {
		if existing.AuthTokenHash != "" && !auth.CompareAgentToken(reg.AuthToken, existing.AuthTokenHash) {
			return nil, errAuthTokenMismatch
		}
		tokenHash = existing.AuthTokenHash
		name = existing.Name // name is user-owned once set; registration never overwrites it
	} else if lookupErr == sql.ErrNoRows {
		var err error
		tokenHash, err = auth.HashAgentToken(reg.AuthToken)
		if err != nil {
			return nil, err
		}
	} else if lookupErr != nil {
		return nil, lookupErr
	}

	updateInterval := reg.UpdateIntervalMs
	if updateInterval <= 0 {
		updateInterval = 2000
	}

	sys := &models.System{
		ID:               uuid.New().String(),
		AgentID:          reg.AgentID,
		Name:             name,
		Hostname:         reg.Hostname,
		Platform:         reg.Platform,
		AgentVersion:     reg.AgentVersion,
		Capabilities:     reg.Capabilities,
		AuthTokenHash:    tokenHash,
		Status:           models.SystemStatusOnline,
		UpdateIntervalMs: updateInterval,
		// First contact seeds the negotiated settings from what the agent
		// declares; store.UpsertSystem applies its own defaults for
		// anything the agent left zero-valued.
		FanStepPercent:   reg.FanStepPercent,
		HysteresisC:      reg.HysteresisTempC,
		EmergencyTempC:   reg.EmergencyTempC,
		FailsafeSpeedPct: reg.FailsafeSpeed,
		LogLevel:         reg.LogLevel,
		EnableFanControl: true,
		LastSeenAt:       time.Now(),
	}
	if existing != nil {
		// Negotiated settings are owned by the server once a system exists —
		// re-registration must not reset them to zero values.
		sys.ID = existing.ID
		sys.FanStepPercent = existing.FanStepPercent
		sys.HysteresisC = existing.HysteresisC
		sys.EmergencyTempC = existing.EmergencyTempC
		sys.FailsafeSpeedPct = existing.FailsafeSpeedPct
		sys.LogLevel = existing.LogLevel
		sys.EnableFanControl = existing.EnableFanControl
	}

	if err := h.database.UpsertSystem(sys); err != nil {
		return nil, err
	}
	return h.database.GetSystemByAgentID(reg.AgentID)
}

func (h *Handler) sendRegistered(conn *AgentConnection) {
	if err := h.hub.SendEnvelope(conn.AgentID, models.ServerMsgRegistered, map[string]string{"systemId": conn.SystemID}); err != nil {
		logger.Gateway().Warn().Err(err).Str("agentId", conn.AgentID).Msg("failed to send registration confirmation")
	}
}

func (h *Handler) readPump(conn *AgentConnection) {
	defer func() {
		h.hub.UnregisterAgent(conn.AgentID)
		conn.Conn.Close()
	}()

	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Gateway().Warn().Err(err).Str("agentId", conn.AgentID).Msg("unexpected close")
			}
			break
		}

		var env models.AgentEnvelope
		if err := json.Unmarshal(messageBytes, &env); err != nil {
			logger.Gateway().Warn().Str("agentId", conn.AgentID).Msg("invalid envelope")
			continue
		}

		switch env.Type {
		case models.AgentMsgData:
			h.handleData(conn, env)
		case models.AgentMsgCommandResponse:
			h.handleCommandResponse(conn, env)
		case models.AgentMsgPong:
			// handled by SetPongHandler at the transport level; nothing to do
		default:
			logger.Gateway().Warn().Str("agentId", conn.AgentID).Str("type", env.Type).Msg("unknown message type")
		}
	}
}

func (h *Handler) handleData(conn *AgentConnection, env models.AgentEnvelope) {
	var data models.DataPayload
	if err := json.Unmarshal(env.Payload, &data); err != nil {
		logger.Gateway().Warn().Str("agentId", conn.AgentID).Msg("invalid data payload")
		return
	}
	data.AgentID = conn.AgentID

	if err := h.hub.UpdateAgentHeartbeat(conn.AgentID); err != nil {
		logger.Gateway().Warn().Err(err).Str("agentId", conn.AgentID).Msg("heartbeat update failed")
	}

	if h.OnData != nil {
		h.OnData(data)
	}
}

func (h *Handler) handleCommandResponse(conn *AgentConnection, env models.AgentEnvelope) {
	var resp models.CommandResponsePayload
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		logger.Gateway().Warn().Str("agentId", conn.AgentID).Msg("invalid commandResponse payload")
		return
	}

	if h.OnCommandResponse != nil {
		h.OnCommandResponse(conn.SystemID, resp)
	}
}

func (h *Handler) writePump(conn *AgentConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := conn.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				logger.Gateway().Warn().Err(err).Str("agentId", conn.AgentID).Msg("write error")
				return
			}
			w.Write(message)

			n := len(conn.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-conn.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
