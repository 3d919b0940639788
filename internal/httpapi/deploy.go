package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/anexgohan/pankha/internal/errors"
	"github.com/anexgohan/pankha/internal/store"
	"github.com/anexgohan/pankha/internal/validator"
)

type deployTemplateRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Platform string `json:"platform" validate:"required,oneof=linux darwin windows"`
	Script   string `json:"script" validate:"required"`
}

// createDeployTemplate stores an installer script and returns a
// 24h-expiry download link for it.
func (a *API) createDeployTemplate(c *gin.Context) {
	var req deployTemplateRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	tmpl := &store.DeploymentTemplate{
		ID:       uuid.NewString(),
		Name:     a.sanitize(req.Name),
		Platform: req.Platform,
		Script:   req.Script,
	}
	if err := a.database.CreateDeploymentTemplate(tmpl); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}

	token, err := a.deployTok.Issue(tmpl.ID)
	if err != nil {
		respondError(c, apperrors.InternalServer(err.Error()))
		return
	}

	ok(c, gin.H{
		"templateId":  tmpl.ID,
		"downloadUrl": fmt.Sprintf("/api/deploy/linux?token=%s", token),
	})
}

func (a *API) resolveDeployToken(c *gin.Context) (*store.DeploymentTemplate, bool) {
	token := c.Query("token")
	if token == "" {
		respondError(c, apperrors.Unauthorized("missing token"))
		return nil, false
	}
	templateID, err := a.deployTok.Validate(token)
	if err != nil {
		respondError(c, apperrors.TokenInvalid())
		return nil, false
	}
	tmpl, err := a.database.GetDeploymentTemplate(templateID)
	if err != nil {
		respondError(c, apperrors.NotFound("deployment template"))
		return nil, false
	}
	_ = a.database.IncrementDeploymentUsedCount(templateID)
	return tmpl, true
}

func (a *API) downloadLinuxInstaller(c *gin.Context) {
	tmpl, found := a.resolveDeployToken(c)
	if !found {
		return
	}
	c.Header("Content-Disposition", "attachment; filename=install.sh")
	c.Data(http.StatusOK, "text/x-shellscript", []byte(tmpl.Script))
}

func (a *API) downloadBinary(c *gin.Context) {
	tmpl, found := a.resolveDeployToken(c)
	if !found {
		return
	}
	arch := c.Param("arch")
	if arch != "amd64" && arch != "arm64" {
		respondError(c, apperrors.BadRequest("unsupported architecture: "+arch))
		return
	}
	respondError(c, apperrors.ServiceUnavailable(fmt.Sprintf("binary distribution for %s/%s is not configured on this deployment", tmpl.Platform, arch)))
}
