package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/anexgohan/pankha/internal/errors"
)

// getHistory serves both /history and /charts: a time-bounded window
// of retained monitoring samples, clamped to what the active license
// tier actually retains regardless of what the caller asks for.
func (a *API) getHistory(c *gin.Context) {
	state, found := a.requireSystem(c, c.Param("id"))
	if !found {
		return
	}

	now := time.Now().UTC()
	oldestRetained := now.AddDate(0, 0, -a.license.RetentionDays())

	from := oldestRetained
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil && t.After(oldestRetained) {
			from = t
		}
	}

	to := now
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil && t.Before(now) {
			to = t
		}
	}

	points, err := a.database.QueryHistory(state.System.ID, from, to)
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	ok(c, gin.H{"points": points, "from": from, "to": to})
}
