package models

import "time"

// System is a registered agent host, keyed by the agent-generated
// AgentID it first registered with.
type System struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agentId"`
	Name             string    `json:"name"`
	Hostname         string    `json:"hostname"`
	Platform         string    `json:"platform"`
	AgentVersion     string            `json:"agentVersion"`
	Capabilities     AgentCapabilities `json:"capabilities"`
	AuthTokenHash    string            `json:"-"`
	Status           string    `json:"status"` // online, offline
	ReadOnly         bool      `json:"readOnly"`
	UpdateIntervalMs int       `json:"updateIntervalMs"`
	FanStepPercent   int       `json:"fanStepPercent"`
	HysteresisC      float64   `json:"hysteresisC"`
	EmergencyTempC   float64   `json:"emergencyTempC"`
	FailsafeSpeedPct int       `json:"failsafeSpeedPercent"`
	LogLevel         string    `json:"logLevel"`
	EnableFanControl bool      `json:"enableFanControl"`
	LastSeenAt       time.Time `json:"lastSeenAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// System status values.
const (
	SystemStatusOnline  = "online"
	SystemStatusOffline = "offline"
)

// Sensor is a temperature sensor discovered on a system.
type Sensor struct {
	ID           string    `json:"id"`
	SystemID     string    `json:"systemId"`
	SensorKey    string    `json:"sensorKey"` // agent-local identifier
	Label        string    `json:"label"`
	Visible      bool      `json:"visible"`
	LastValueC   float64   `json:"lastValueC"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Fan is a controllable fan discovered on a system.
type Fan struct {
	ID             string    `json:"id"`
	SystemID       string    `json:"systemId"`
	FanKey         string    `json:"fanKey"` // agent-local identifier
	Label          string    `json:"label"`
	LastRPM        int       `json:"lastRpm"`
	LastSpeedPct   int       `json:"lastSpeedPercent"`
	HasPWMControl  bool      `json:"hasPwmControl"`
	MinSpeedPct    int       `json:"minSpeedPercent"`
	MaxSpeedPct    int       `json:"maxSpeedPercent"`
	ControlMode    string    `json:"controlMode"` // unassigned, manual, controlled, emergency
	LastSeenAt     time.Time `json:"lastSeenAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Fan control modes.
const (
	FanModeUnassigned = "unassigned"
	FanModeManual      = "manual"
	FanModeControlled  = "controlled"
	FanModeEmergency   = "emergency"
)

// FanCurvePoint is one (temperature, speed) anchor of a fan profile's
// interpolation curve.
type FanCurvePoint struct {
	TemperatureC float64 `json:"temperatureC"`
	SpeedPercent int     `json:"speedPercent"`
}

// FanProfile is a named, reusable fan curve plus control parameters.
type FanProfile struct {
	ID              string          `json:"id"`
	SystemID        string          `json:"systemId"`
	Name            string          `json:"name"`
	CurvePoints     []FanCurvePoint `json:"curvePoints"`
	HysteresisC     float64         `json:"hysteresisC"`
	StepPercent     int             `json:"stepPercent"`
	EmergencyTempC  float64         `json:"emergencyTempC"`
	FailsafeSpeed   int             `json:"failsafeSpeedPercent"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Allowed step quantization values for a fan profile's StepPercent.
var AllowedStepPercents = []int{3, 5, 10, 15, 25, 50, 100}

// FanAssignment binds one fan, on one system, to the sensor that drives
// it and the profile that maps temperature to speed.
type FanAssignment struct {
	ID         string    `json:"id"`
	SystemID   string    `json:"systemId"`
	FanID      string    `json:"fanId"`
	SensorID   string    `json:"sensorId"`
	ProfileID  string    `json:"profileId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Command priority levels, highest first.
const (
	PriorityEmergency = "emergency"
	PriorityHigh      = "high"
	PriorityNormal    = "normal"
	PriorityLow       = "low"
)

// Command statuses.
const (
	CommandStatusPending  = "pending"
	CommandStatusSent     = "sent"
	CommandStatusAcked    = "acked"
	CommandStatusFailed   = "failed"
	CommandStatusTimeout  = "timeout"
	CommandStatusSuperseded = "superseded"
)

// Command is a unit of work dispatched to an agent, tracked from
// enqueue through acknowledgement, failure, or timeout.
type Command struct {
	ID           string    `json:"id"`
	SystemID     string    `json:"systemId"`
	Type         string    `json:"type"`
	Priority     string    `json:"priority"`
	Payload      []byte    `json:"payload"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HistoryPoint is one retained monitoring sample for a system, used to
// populate charting endpoints.
type HistoryPoint struct {
	ID           int64     `json:"id"`
	SystemID     string    `json:"systemId"`
	RecordedAt   time.Time `json:"recordedAt"`
	Sensors      []SensorReading `json:"sensors"`
	Fans         []FanReading    `json:"fans"`
	CPUUsage     float64   `json:"cpuUsage"`
	MemUsage     float64   `json:"memoryUsage"`
}

// LicenseTier names a license's entitlement tier.
type LicenseTier string

// Known tiers.
const (
	TierCommunity  LicenseTier = "community"
	TierPro        LicenseTier = "pro"
	TierEnterprise LicenseTier = "enterprise"
)

// LicenseCache is the last-known-good validation result for the
// installation's license, including its admission limits.
type LicenseCache struct {
	ID             string      `json:"id"`
	LicenseKey     string      `json:"licenseKey"`
	Tier           LicenseTier `json:"tier"`
	AgentLimit     *int        `json:"agentLimit"` // nil = unlimited
	RetentionDays  int         `json:"retentionDays"`
	Valid          bool        `json:"valid"`
	LastValidatedAt time.Time  `json:"lastValidatedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ControllerState is the per-fan runtime state of the fan curve
// controller, kept in memory and cleared whenever an assignment changes
// or the owning agent disconnects.
type ControllerState struct {
	FanID                string
	LastAppliedTempBucket float64
	LastAppliedSpeed     int
	LastWriteAt          time.Time
	InEmergency          bool
}
