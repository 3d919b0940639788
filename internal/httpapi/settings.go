package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/anexgohan/pankha/internal/errors"
)

// settingsWhitelist is the only backend_settings keys the dashboard may
// read or write through this surface. Anything else stays internal.
var settingsWhitelist = map[string]bool{
	"controller_update_interval": true,
	"graph_history_hours":        true,
	"data_retention_days":        true,
	"accent_color":               true,
	"hover_tint_color":           true,
}

func (a *API) listSettings(c *gin.Context) {
	out := make(gin.H, len(settingsWhitelist))
	for key := range settingsWhitelist {
		var value interface{}
		if found, err := a.database.GetSetting(key, &value); err != nil {
			respondError(c, apperrors.DatabaseError(err))
			return
		} else if found {
			out[key] = value
		}
	}
	ok(c, out)
}

func (a *API) getSetting(c *gin.Context) {
	key := c.Param("key")
	if !settingsWhitelist[key] {
		respondError(c, apperrors.NotFound("setting"))
		return
	}
	var value interface{}
	found, err := a.database.GetSetting(key, &value)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	if !found {
		respondError(c, apperrors.NotFound("setting"))
		return
	}
	ok(c, gin.H{"key": key, "value": value})
}

type putSettingRequest struct {
	Value interface{} `json:"value"`
}

func (a *API) putSetting(c *gin.Context) {
	key := c.Param("key")
	if !settingsWhitelist[key] {
		respondError(c, apperrors.NotFound("setting"))
		return
	}
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	if err := a.database.SetSetting(key, req.Value); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) putSettings(c *gin.Context) {
	var req map[string]interface{}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	for key, value := range req {
		if !settingsWhitelist[key] {
			respondError(c, apperrors.BadRequest("unknown setting: "+key))
			return
		}
		if err := a.database.SetSetting(key, value); err != nil {
			respondError(c, apperrors.DatabaseError(err))
			return
		}
	}
	c.Status(http.StatusNoContent)
}
