// Package httpapi implements the control plane's REST surface: thin
// Gin handlers over the gateway, registry, aggregator, dispatcher,
// controller, and license packages. No business logic lives here
// beyond request validation and translating calls to those services.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anexgohan/pankha/internal/aggregator"
	"github.com/anexgohan/pankha/internal/cache"
	"github.com/anexgohan/pankha/internal/controller"
	"github.com/anexgohan/pankha/internal/deploytoken"
	"github.com/anexgohan/pankha/internal/dispatch"
	apperrors "github.com/anexgohan/pankha/internal/errors"
	"github.com/anexgohan/pankha/internal/license"
	"github.com/anexgohan/pankha/internal/middleware"
	"github.com/anexgohan/pankha/internal/registry"
	"github.com/anexgohan/pankha/internal/store"
)

// systemsListCacheTTL bounds how stale the cached /api/systems listing
// may be; short enough that a dashboard poll never waits a full
// interval behind a fan-step or name change made through this API.
const systemsListCacheTTL = 2 * time.Second

// API bundles every collaborator the REST handlers need. One instance
// is constructed in cmd/main.go and wired to the router.
type API struct {
	database   *store.Database
	registry   *registry.Registry
	agg        *aggregator.Aggregator
	dispatcher *dispatch.Dispatcher
	controller *controller.Controller
	license    *license.Policy
	sanitizer  *middleware.InputValidator
	deployTok  *deploytoken.Issuer
	cache      *cache.Cache
}

// New creates an API bound to the running services. redisCache may be
// a disabled Cache (see cache.NewCache); handlers degrade to
// uncached reads transparently in that case.
func New(database *store.Database, reg *registry.Registry, agg *aggregator.Aggregator, dispatcher *dispatch.Dispatcher, ctrl *controller.Controller, lic *license.Policy, deploySecret []byte, redisCache *cache.Cache) *API {
	return &API{
		database:   database,
		registry:   reg,
		agg:        agg,
		dispatcher: dispatcher,
		controller: ctrl,
		license:    lic,
		sanitizer:  middleware.NewInputValidator(),
		deployTok:  deploytoken.New(deploySecret),
		cache:      redisCache,
	}
}

// RegisterRoutes mounts every REST endpoint under router (expected to
// already be prefixed with /api).
func (a *API) RegisterRoutes(router *gin.RouterGroup) {
	systems := router.Group("/systems")
	{
		systems.GET("", cache.CacheMiddleware(a.cache, systemsListCacheTTL), a.listSystems)
		systems.GET("/:id", a.getSystem)
		systems.PUT("/:id/name", cache.InvalidateCacheMiddleware(a.cache, cache.SystemsPattern()), a.setSystemName)
		systems.PUT("/:id/fan-step", a.setFanStep)
		systems.PUT("/:id/hysteresis", a.setHysteresis)
		systems.PUT("/:id/emergency-temp", a.setEmergencyTemp)
		systems.PUT("/:id/log-level", a.setLogLevel)
		systems.PUT("/:id/failsafe-speed", a.setFailsafeSpeed)
		systems.PUT("/:id/enable-fan-control", a.setEnableFanControl)
		systems.PUT("/:id/update-interval", a.setUpdateInterval)
		systems.PUT("/:id/fans/:fanId", a.setFanSpeed)
		systems.PUT("/:id/fans/:fanId/label", a.setFanLabel)
		systems.PUT("/:id/profile", a.applyProfile)
		systems.POST("/:id/profiles", a.saveProfile)
		systems.GET("/:id/profiles", a.listProfiles)
		systems.GET("/:id/history", a.getHistory)
		systems.GET("/:id/charts", a.getHistory)
		systems.PUT("/:id/sensors/:sensorId/label", a.setSensorLabel)
		systems.PUT("/:id/sensors/:sensorId/visibility", a.setSensorVisibility)
		systems.PUT("/:id/sensor-groups/:group/visibility", a.setGroupVisibility)
		systems.GET("/:id/sensor-visibility", a.getSensorVisibility)
		systems.POST("/:id/update", a.selfUpdate)
	}

	router.GET("/settings", a.listSettings)
	router.PUT("/settings", a.putSettings)
	router.GET("/settings/:key", a.getSetting)
	router.PUT("/settings/:key", a.putSetting)

	deploy := router.Group("/deploy")
	{
		deploy.POST("/templates", a.createDeployTemplate)
		deploy.GET("/linux", a.downloadLinuxInstaller)
		deploy.GET("/binaries/:arch", a.downloadBinary)
	}

	router.POST("/emergency-stop", a.emergencyStop)
}

// respondError translates a domain error into its HTTP wire shape. A
// plain error is wrapped as an internal server error.
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.InternalServer(err.Error())
	}
	resp := appErr.ToResponse()
	c.JSON(appErr.StatusCode, gin.H{
		"error":            resp.Error,
		"message":          resp.Message,
		"code":             resp.Code,
		"details":          resp.Details,
		"upgrade_required": appErr.Code == apperrors.ErrCodeAdmissionDenied,
	})
}

// requireSystem loads a system's registry state or writes a 404.
func (a *API) requireSystem(c *gin.Context, id string) (*registry.AgentState, bool) {
	state, ok := a.registry.Get(id)
	if !ok {
		respondError(c, apperrors.NotFound("system"))
		return nil, false
	}
	return state, true
}

// requireWritable loads a system and rejects the request with 403
// ADMISSION_DENIED if the license admission policy has placed it in
// read-only mode.
func (a *API) requireWritable(c *gin.Context, id string) (*registry.AgentState, bool) {
	state, ok := a.requireSystem(c, id)
	if !ok {
		return nil, false
	}
	if state.ReadOnly {
		respondError(c, apperrors.AdmissionDenied(string(a.license.Current().Tier)))
		return nil, false
	}
	return state, true
}

// sanitize strips HTML/script content from a user-editable label
// before it is persisted and rendered back in the dashboard.
func (a *API) sanitize(s string) string { return a.sanitizer.SanitizeString(s) }

func ok(c *gin.Context, body interface{}) { c.JSON(http.StatusOK, body) }
