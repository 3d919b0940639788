package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/anexgohan/pankha/internal/errors"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
	"github.com/anexgohan/pankha/internal/validator"
)

type curvePointRequest struct {
	TemperatureC float64 `json:"temperatureC" validate:"gte=-40,lte=150"`
	SpeedPercent int     `json:"speedPercent" validate:"gte=0,lte=100"`
}

type saveProfileRequest struct {
	Name             string              `json:"name" validate:"required,max=255"`
	CurvePoints      []curvePointRequest `json:"curvePoints" validate:"required,min=2,dive"`
	HysteresisC      float64             `json:"hysteresisC" validate:"gte=0,lte=50"`
	StepPercent      int                 `json:"stepPercent" validate:"required,steppercent"`
	EmergencyTempC   float64             `json:"emergencyTempC" validate:"gte=0,lte=150"`
	FailsafeSpeedPct int                 `json:"failsafeSpeedPercent" validate:"gte=0,lte=100"`
}

func (a *API) saveProfile(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}

	var req saveProfileRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	points := make([]models.FanCurvePoint, len(req.CurvePoints))
	for i, p := range req.CurvePoints {
		points[i] = models.FanCurvePoint{TemperatureC: p.TemperatureC, SpeedPercent: p.SpeedPercent}
	}

	profile := &models.FanProfile{
		ID:             uuid.NewString(),
		SystemID:       state.System.ID,
		Name:           a.sanitize(req.Name),
		CurvePoints:    points,
		HysteresisC:    req.HysteresisC,
		StepPercent:    req.StepPercent,
		EmergencyTempC: req.EmergencyTempC,
		FailsafeSpeed:  req.FailsafeSpeedPct,
	}

	if err := a.database.CreateFanProfile(profile); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (a *API) listProfiles(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}
	profiles, err := a.database.ListFanProfiles(state.System.ID)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	ok(c, gin.H{"profiles": profiles})
}

type applyProfileRequest struct {
	FanID     string `json:"fanId" validate:"required"`
	SensorID  string `json:"sensorId" validate:"required"`
	ProfileID string `json:"profileId" validate:"required"`
}

func (a *API) applyProfile(c *gin.Context) {
	state, found := a.requireWritable(c, c.Param("id"))
	if !found {
		return
	}

	var req applyProfileRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	fan, err := a.database.GetFan(req.FanID)
	if err != nil || fan == nil || fan.SystemID != state.System.ID {
		respondError(c, apperrors.FanNotFound(req.FanID))
		return
	}
	if _, err := a.database.GetFanProfile(req.ProfileID); err != nil {
		respondError(c, apperrors.ProfileNotFound(req.ProfileID))
		return
	}

	row := store.FanAssignmentRow{
		ID:        uuid.NewString(),
		SystemID:  state.System.ID,
		FanID:     req.FanID,
		SensorID:  req.SensorID,
		ProfileID: req.ProfileID,
	}
	if err := a.database.UpsertFanAssignment(row); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	if err := a.database.SetFanControlMode(req.FanID, models.FanModeControlled); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}
