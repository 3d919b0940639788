// Package models defines the wire protocol and persisted entities for the
// Pankha control plane: the messages exchanged with agents over the
// WebSocket gateway, the messages exchanged with browser subscribers over
// the broadcast hub, and the domain entities stored by internal/store.
package models

import (
	"encoding/json"
	"time"
)

// AgentEnvelope is the outer frame for every message on the agent
// WebSocket connection, in both directions.
type AgentEnvelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Agent -> server message types.
const (
	AgentMsgRegister        = "register"
	AgentMsgData            = "data"
	AgentMsgCommandResponse = "commandResponse"
	AgentMsgPong            = "pong"
)

// Server -> agent message types.
const (
	ServerMsgRegistered           = "registered"
	ServerMsgPing                 = "ping"
	ServerMsgSetFanSpeed           = "setFanSpeed"
	ServerMsgSetUpdateInterval     = "setUpdateInterval"
	ServerMsgApplyFanProfile       = "applyFanProfile"
	ServerMsgSetFanStep            = "setFanStep"
	ServerMsgSetHysteresis         = "setHysteresis"
	ServerMsgSetEmergencyTemp      = "setEmergencyTemp"
	ServerMsgSetFailsafeSpeed      = "setFailsafeSpeed"
	ServerMsgSetLogLevel           = "setLogLevel"
	ServerMsgSetEnableFanControl   = "setEnableFanControl"
	ServerMsgSetAgentName          = "setAgentName"
	ServerMsgEmergencyStop         = "emergencyStop"
	ServerMsgSelfUpdate            = "selfUpdate"
	ServerMsgRescanSensors         = "rescanSensors"
	ServerMsgUpdateSensorMapping   = "updateSensorMapping"
)

// AgentCapabilities is the capability snapshot an agent reports at
// register time: what it can see and whether it can actuate fans at all.
type AgentCapabilities struct {
	Sensors    []string `json:"sensors"`
	Fans       []string `json:"fans"`
	FanControl bool     `json:"fanControl"`
}

// RegisterPayload is sent by an agent as the first message on a new
// connection. Everything the control plane needs to know to either
// create a new system row or recognize a returning one lives here,
// including the negotiated control settings the agent was last
// configured with — on first contact these seed the system row; on
// reconnect the server's stored values win instead (see admitSystem).
type RegisterPayload struct {
	AgentID          string            `json:"agentId"`
	AgentName        string            `json:"agentName"`
	Hostname         string            `json:"hostname"`
	Platform         string            `json:"platform"`
	AgentVersion     string            `json:"agentVersion"`
	Capabilities     AgentCapabilities `json:"capabilities"`
	AuthToken        string            `json:"authToken"`
	UpdateIntervalMs int               `json:"updateIntervalMs"`
	FanStepPercent   int               `json:"fanStepPercent"`
	FailsafeSpeed    int               `json:"failsafeSpeed"`
	HysteresisTempC  float64           `json:"hysteresisTemp"`
	EmergencyTempC   float64           `json:"emergencyTemp"`
	LogLevel         string            `json:"logLevel"`
	Sensors          []SensorReading   `json:"sensors,omitempty"`
	Fans             []FanReading      `json:"fans,omitempty"`
}

// DataPayload is the periodic telemetry push from an agent.
type DataPayload struct {
	AgentID   string          `json:"agentId"`
	Sensors   []SensorReading `json:"sensors"`
	Fans      []FanReading    `json:"fans"`
	CPUUsage  float64         `json:"cpuUsage"`
	MemUsage  float64         `json:"memoryUsage"`
	UptimeSec int64           `json:"agentUptime"`
}

// SensorReading is one sample of one sensor, as reported by an agent.
type SensorReading struct {
	SensorID    string  `json:"sensorId"`
	Label       string  `json:"label"`
	TemperatureC float64 `json:"temperatureC"`
}

// FanReading is one sample of one fan, as reported by an agent.
type FanReading struct {
	FanID   string `json:"fanId"`
	Label   string `json:"label"`
	RPM     int    `json:"rpm"`
	SpeedPct int   `json:"speedPercent"`
}

// CommandResponsePayload correlates an outstanding command with its
// outcome, reported back by the agent that executed it.
type CommandResponsePayload struct {
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// SetFanSpeedPayload is the body of a setFanSpeed command.
type SetFanSpeedPayload struct {
	FanID        string `json:"fanId"`
	SpeedPercent int    `json:"speedPercent"`
}

// ApplyFanProfilePayload is the body of an applyFanProfile command.
type ApplyFanProfilePayload struct {
	FanID     string `json:"fanId"`
	ProfileID string `json:"profileId"`
}

// Browser-facing subscription protocol, carried over internal/broadcast's
// hub rather than the agent gateway.
const (
	ClientMsgSubscribe        = "subscribe"
	ClientMsgUnsubscribe      = "unsubscribe"
	ClientMsgRequestFullSync  = "requestFullSync"

	ServerMsgFullState     = "fullState"
	ServerMsgSystemDelta   = "systemDelta"
	ServerMsgSystemOffline = "systemOffline"
	ServerMsgNameChanged   = "nameChanged"
	ServerMsgLicenseChanged = "licenseChanged"
)

// ClientEnvelope is the outer frame for browser subscriber messages.
type ClientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload names the agentId to subscribe to, or "all".
type SubscribePayload struct {
	AgentID string `json:"agentId"`
}
