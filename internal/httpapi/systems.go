package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/anexgohan/pankha/internal/errors"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/registry"
	"github.com/anexgohan/pankha/internal/validator"
)

// systemView is the enriched shape returned by the systems list/detail
// endpoints: the persisted row plus whatever only the registry or
// aggregator know (read-only status, live telemetry).
type systemView struct {
	*models.System
	LastDataReceivedAt string                `json:"lastDataReceivedAt,omitempty"`
	Sensors            []*models.Sensor      `json:"sensors,omitempty"`
	Fans               []*models.Fan         `json:"fans,omitempty"`
	Profiles           []*models.FanProfile  `json:"profiles,omitempty"`
}

func (a *API) listSystems(c *gin.Context) {
	states := a.registry.List()
	out := make([]systemView, 0, len(states))
	for _, s := range states {
		sys := *s.System
		sys.ReadOnly = s.ReadOnly
		view := systemView{System: &sys}
		if !s.LastDataReceivedAt.IsZero() {
			view.LastDataReceivedAt = s.LastDataReceivedAt.UTC().Format(timeFormat)
		}
		out = append(out, view)
	}
	ok(c, gin.H{"systems": out})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (a *API) getSystem(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}

	sensors, err := a.database.ListSensors(state.System.ID)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	fans, err := a.database.ListFans(state.System.ID)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	profiles, err := a.database.ListFanProfiles(state.System.ID)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}

	sys := *state.System
	sys.ReadOnly = state.ReadOnly
	view := systemView{System: &sys, Sensors: sensors, Fans: fans, Profiles: profiles}
	if !state.LastDataReceivedAt.IsZero() {
		view.LastDataReceivedAt = state.LastDataReceivedAt.UTC().Format(timeFormat)
	}
	ok(c, view)
}

type nameRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

func (a *API) setSystemName(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}

	var req nameRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	name := a.sanitize(req.Name)
	if err := a.registry.Rename(state.System.ID, name); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetAgentName, gin.H{"name": name})
}

type fanStepRequest struct {
	StepPercent int `json:"stepPercent" validate:"required,steppercent"`
}

func (a *API) setFanStep(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	var req fanStepRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := a.registry.SetFanStepPercent(state.System.ID, req.StepPercent); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetFanStep, gin.H{"stepPercent": req.StepPercent})
}

type hysteresisRequest struct {
	HysteresisC float64 `json:"hysteresisC" validate:"gte=0,lte=50"`
}

func (a *API) setHysteresis(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	var req hysteresisRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := a.registry.SetHysteresisC(state.System.ID, req.HysteresisC); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetHysteresis, gin.H{"hysteresisC": req.HysteresisC})
}

type emergencyTempRequest struct {
	EmergencyTempC float64 `json:"emergencyTempC" validate:"gte=0,lte=150"`
}

func (a *API) setEmergencyTemp(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	var req emergencyTempRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := a.registry.SetEmergencyTempC(state.System.ID, req.EmergencyTempC); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetEmergencyTemp, gin.H{"emergencyTempC": req.EmergencyTempC})
}

type failsafeSpeedRequest struct {
	FailsafeSpeedPct int `json:"failsafeSpeedPercent" validate:"gte=0,lte=100"`
}

func (a *API) setFailsafeSpeed(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	var req failsafeSpeedRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := a.registry.SetFailsafeSpeedPct(state.System.ID, req.FailsafeSpeedPct); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetFailsafeSpeed, gin.H{"failsafeSpeedPercent": req.FailsafeSpeedPct})
}

type logLevelRequest struct {
	LogLevel string `json:"logLevel" validate:"required,oneof=debug info warn error"`
}

func (a *API) setLogLevel(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	var req logLevelRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := a.registry.SetLogLevel(state.System.ID, req.LogLevel); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetLogLevel, gin.H{"logLevel": req.LogLevel})
}

type enableFanControlRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *API) setEnableFanControl(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	var req enableFanControlRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := a.registry.SetEnableFanControl(state.System.ID, req.Enabled); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetEnableFanControl, gin.H{"enabled": req.Enabled})
}

type updateIntervalRequest struct {
	UpdateIntervalMs int `json:"updateIntervalMs" validate:"gte=100,lte=60000"`
}

func (a *API) setUpdateInterval(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	var req updateIntervalRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := a.database.SetSystemUpdateInterval(state.System.ID, req.UpdateIntervalMs); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	a.dispatchSetting(c, state, models.ServerMsgSetUpdateInterval, gin.H{"updateIntervalMs": req.UpdateIntervalMs})
}

// dispatchSetting pushes a negotiated-setting change to the agent
// after it has already been persisted and mirrored. A disconnected
// agent simply misses the push; it re-syncs on next registration
// since the setter already updated the system row it reads back.
func (a *API) dispatchSetting(c *gin.Context, state *registry.AgentState, msgType string, payload interface{}) {
	if _, err := a.dispatcher.Enqueue(state.System.ID, state.System.AgentID, models.PriorityNormal, msgType, payload, ""); err != nil {
		respondError(c, apperrors.TransportError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

type setFanSpeedRequest struct {
	SpeedPercent int `json:"speedPercent" validate:"gte=0,lte=100"`
}

func (a *API) setFanSpeed(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	fanID := c.Param("fanId")

	var req setFanSpeedRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	fan, err := a.database.GetFan(fanID)
	if err != nil || fan == nil || fan.SystemID != state.System.ID {
		respondError(c, apperrors.FanNotFound(fanID))
		return
	}

	cmd, err := a.dispatcher.Enqueue(state.System.ID, state.System.AgentID, models.PriorityNormal, models.ServerMsgSetFanSpeed,
		models.SetFanSpeedPayload{FanID: fanID, SpeedPercent: req.SpeedPercent}, fanID)
	if err != nil {
		respondError(c, apperrors.TransportError(err))
		return
	}

	if fan.ControlMode == models.FanModeControlled {
		if err := a.database.SetFanControlMode(fanID, models.FanModeManual); err != nil {
			respondError(c, apperrors.DatabaseError(err))
			return
		}
	}

	ok(c, gin.H{"commandId": cmd.ID, "status": cmd.Status})
}

type fanLabelRequest struct {
	Label string `json:"label" validate:"required,max=255"`
}

func (a *API) setFanLabel(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}
	fanID := c.Param("fanId")

	var req fanLabelRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	fan, err := a.database.GetFan(fanID)
	if err != nil || fan == nil || fan.SystemID != state.System.ID {
		respondError(c, apperrors.FanNotFound(fanID))
		return
	}

	label := a.sanitize(req.Label)
	if err := a.database.SetFanLabel(fanID, label); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) selfUpdate(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}
	cmd, err := a.dispatcher.Enqueue(state.System.ID, state.System.AgentID, models.PriorityHigh, models.ServerMsgSelfUpdate, gin.H{}, "")
	if err != nil {
		respondError(c, apperrors.TransportError(err))
		return
	}
	ok(c, gin.H{"commandId": cmd.ID, "status": cmd.Status})
}
