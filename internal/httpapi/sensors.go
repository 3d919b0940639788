package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/anexgohan/pankha/internal/errors"
	"github.com/anexgohan/pankha/internal/validator"
)

func (a *API) findSensor(systemID, sensorID string) error {
	sensors, err := a.database.ListSensors(systemID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	for _, s := range sensors {
		if s.ID == sensorID {
			return nil
		}
	}
	return apperrors.SensorNotFound(sensorID)
}

type sensorLabelRequest struct {
	Label string `json:"label" validate:"required,max=255"`
}

func (a *API) setSensorLabel(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}
	sensorID := c.Param("sensorId")
	if err := a.findSensor(state.System.ID, sensorID); err != nil {
		respondError(c, err)
		return
	}

	var req sensorLabelRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	if err := a.database.SetSensorLabel(sensorID, a.sanitize(req.Label)); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

func (a *API) setSensorVisibility(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}
	sensorID := c.Param("sensorId")
	if err := a.findSensor(state.System.ID, sensorID); err != nil {
		respondError(c, err)
		return
	}

	var req visibilityRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	if err := a.database.SetSensorVisibility(sensorID, req.Visible); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) setGroupVisibility(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}
	group := c.Param("group")

	var req visibilityRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	affected, err := a.database.SetGroupVisibility(state.System.ID, group, req.Visible)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	ok(c, gin.H{"affected": affected})
}

func (a *API) getSensorVisibility(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}
	groups, err := a.database.ListGroupVisibility(state.System.ID)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	ok(c, gin.H{"groups": groups})
}
