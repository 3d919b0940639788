// Command pankha-server runs the control plane: it accepts agent
// WebSocket connections, aggregates their telemetry, drives the fan
// curve controller, serves the REST API and the browser delta feed,
// and enforces the active license's admission limits.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/anexgohan/pankha/internal/aggregator"
	"github.com/anexgohan/pankha/internal/broadcast"
	"github.com/anexgohan/pankha/internal/cache"
	"github.com/anexgohan/pankha/internal/controller"
	"github.com/anexgohan/pankha/internal/dispatch"
	"github.com/anexgohan/pankha/internal/gateway"
	"github.com/anexgohan/pankha/internal/httpapi"
	"github.com/anexgohan/pankha/internal/license"
	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/middleware"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/registry"
	"github.com/anexgohan/pankha/internal/scheduler"
	"github.com/anexgohan/pankha/internal/store"
)

func main() {
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnv("LOG_PRETTY", "false") == "true"
	logger.Initialize(logLevel, logPretty)

	port := getEnv("API_PORT", "8000")

	database, err := store.NewDatabase(store.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "pankha"),
		Password: getEnv("DB_PASSWORD", "pankha"),
		DBName:   getEnv("DB_NAME", "pankha"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	redisCache, err := cache.NewCache(cache.Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
		Enabled:  getEnv("CACHE_ENABLED", "false") == "true",
	})
	if err != nil {
		log.Printf("redis cache unavailable, continuing without it: %v", err)
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()

	var validator license.Validator
	if validatorURL := os.Getenv("LICENSE_VALIDATOR_URL"); validatorURL != "" {
		validator = license.NewRemoteValidator(validatorURL)
	}
	licensePolicy, err := license.New(database, validator)
	if err != nil {
		log.Fatalf("failed to initialize license policy: %v", err)
	}

	agentRegistry, err := registry.New(database, licensePolicy)
	if err != nil {
		log.Fatalf("failed to initialize agent registry: %v", err)
	}

	agg := aggregator.New(database)
	go agg.Run()
	defer agg.Stop()

	gatewayEvents := make(chan gateway.Event, 64)
	hub := gateway.NewHub(database, gatewayEvents)
	go hub.Run()
	defer hub.Stop()

	broadcastHub := broadcast.NewHub()
	go broadcastHub.Run()

	publisher := broadcast.NewPublisher(broadcastHub, agg)

	resyncStop := make(chan struct{})
	go publisher.RunPeriodicResync(func() []string {
		states := agentRegistry.List()
		ids := make([]string, len(states))
		for i, s := range states {
			ids[i] = s.System.ID
		}
		return ids
	}, resyncStop)
	defer close(resyncStop)

	licensePolicy.OnChanged = func(l *models.LicenseCache) {
		if err := agentRegistry.Refresh(); err != nil {
			logger.License().Error().Err(err).Msg("failed to refresh registry after license change")
		}
		publisher.NotifyLicenseChanged(l)
	}

	// Drain gateway connection events into the registry and the
	// browser feed: the hub is the source of truth for online/offline,
	// everything else just mirrors it.
	go func() {
		for event := range gatewayEvents {
			switch event.Type {
			case gateway.EventAgentOnline:
				agentRegistry.SetStatus(event.SystemID, models.SystemStatusOnline)
			case gateway.EventAgentOffline:
				agentRegistry.SetStatus(event.SystemID, models.SystemStatusOffline)
				publisher.NotifySystemOffline(event.SystemID)
			}
		}
	}()

	dispatcher := dispatch.New(database, hub)
	dispatcher.SetWorkers(getEnvInt("DISPATCH_WORKERS", 4))
	go dispatcher.Start()
	defer dispatcher.Stop()

	fanController := controller.New(database, agg, dispatcher, licensePolicy)
	go fanController.Run()
	defer fanController.Stop()

	gatewayHandler := gateway.NewHandler(hub, database)
	gatewayHandler.OnData = func(data models.DataPayload) {
		sys, err := database.GetSystemByAgentID(data.AgentID)
		if err != nil {
			logger.Gateway().Warn().Err(err).Str("agentId", data.AgentID).Msg("data from unknown agent")
			return
		}
		agentRegistry.TouchData(sys.ID)
		if err := agg.Ingest(sys.ID, data); err != nil {
			logger.Aggregator().Error().Err(err).Str("systemId", sys.ID).Msg("failed to ingest telemetry")
		}
	}
	gatewayHandler.OnCommandResponse = dispatcher.HandleCommandResponse

	jobs := scheduler.New()
	jobs.Start()
	defer jobs.Stop()

	if err := jobs.Schedule("retention-purge", "0 3 * * *", func() {
		cutoff := time.Now().AddDate(0, 0, -licensePolicy.RetentionDays())
		purged, err := database.PurgeHistoryOlderThan(cutoff)
		if err != nil {
			logger.Scheduler().Error().Err(err).Msg("retention purge failed")
			return
		}
		logger.Scheduler().Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("purged expired history")
	}); err != nil {
		log.Fatalf("failed to schedule retention purge: %v", err)
	}

	if err := jobs.Schedule("license-revalidate", "0 * * * *", licensePolicy.Revalidate); err != nil {
		log.Fatalf("failed to schedule license revalidation: %v", err)
	}

	deploySecret := []byte(getEnv("DEPLOY_TOKEN_SECRET", ""))
	if len(deploySecret) == 0 {
		log.Fatal("DEPLOY_TOKEN_SECRET environment variable must be set")
	}

	api := httpapi.New(database, agentRegistry, agg, dispatcher, fanController, licensePolicy, deploySecret, redisCache)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	router.Use(middleware.StructuredLogger())
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(middleware.AllowedHTTPMethods())
	router.Use(corsMiddleware())
	router.Use(middleware.SecurityHeaders())

	inputValidator := middleware.NewInputValidator()
	router.Use(inputValidator.Middleware())
	router.Use(middleware.RequestSizeLimiter(2 * 1024 * 1024))

	rateLimitRPM := getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 300)
	rateLimiter := middleware.NewRateLimiter(float64(rateLimitRPM)/60, rateLimitRPM/4)
	router.Use(rateLimiter.Middleware())

	router.Use(middleware.GzipWithExclusions(middleware.BestSpeed, []string{
		agentWSPath(),
		browserWSPath(),
	}))

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	apiGroup := router.Group("/api")
	api.RegisterRoutes(apiGroup)
	gatewayHandler.RegisterRoutes(apiGroup)

	browserUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	router.GET(browserWSPath(), func(c *gin.Context) {
		conn, err := browserUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Broadcast().Error().Err(err).Msg("failed to upgrade browser connection")
			return
		}
		broadcastHub.ServeClient(conn, uuid.New().String(), publisher.HandleFullSyncRequest)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.GetLogger().Info().Str("port", port).Msg("pankha control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.GetLogger().Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownTimeout := 30 * time.Second
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			shutdownTimeout = d
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.GetLogger().Error().Err(err).Msg("HTTP server forced to shutdown")
	}
}

func agentWSPath() string  { return "/api/agents/connect" }
func browserWSPath() string { return getEnv("BROWSER_WS_PATH", "/api/browser/connect") }

// corsMiddleware restricts cross-origin access to explicitly configured
// dashboard origins, falling back to localhost for local development.
func corsMiddleware() gin.HandlerFunc {
	allowedOriginsEnv := getEnv("CORS_ALLOWED_ORIGINS", "")
	var allowedOrigins []string
	if allowedOriginsEnv != "" {
		for _, origin := range strings.Split(allowedOriginsEnv, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(origin))
		}
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8000"}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		for _, allowed := range allowedOrigins {
			if origin == allowed {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
				break
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Extensions, Sec-WebSocket-Protocol")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
