package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/anexgohan/pankha/internal/models"
)

// emergencyStop fans out an immediate stop-and-fail-safe command to
// every currently connected agent, bypassing the normal per-system
// admission check: a read-only system under license restriction still
// gets told to go to its failsafe speed.
func (a *API) emergencyStop(c *gin.Context) {
	states := a.registry.List()
	dispatched := 0
	for _, s := range states {
		if s.System.Status != models.SystemStatusOnline {
			continue
		}
		if _, err := a.dispatcher.Enqueue(s.System.ID, s.System.AgentID, models.PriorityEmergency, models.ServerMsgEmergencyStop, gin.H{}, ""); err == nil {
			dispatched++
		}
	}
	ok(c, gin.H{"dispatched": dispatched, "total": len(states)})
}
