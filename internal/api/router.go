// Package api wires together all HTTP routes for the NaaP runtime.
//
// Route grouping philosophy:
//   - /api/v1/gw/admin/* is the team-facing management surface. Every route
//     runs behind the team guard (platform session + x-team-id membership)
//     except health/check, which also accepts the cron runner's shared secret.
//   - /api/v1/plugins/* is the platform-internal lifecycle surface. It needs
//     a valid session but no team header, because plugin deployments are
//     platform-wide resources.
//   - /api/v1/gw/proxy/* is the data path. Callers hold either a gateway API
//     key or a platform session; authentication happens inside the handler
//     because the two credential types resolve ownership differently.
package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/naap-platform/naap-runtime/internal/api/admin"
	"github.com/naap-platform/naap-runtime/internal/api/plugins"
	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/auth"
	"github.com/naap-platform/naap-runtime/internal/config"
	"github.com/naap-platform/naap-runtime/internal/crypto"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
	"github.com/naap-platform/naap-runtime/internal/gateway/healthmon"
	"github.com/naap-platform/naap-runtime/internal/gateway/probe"
	"github.com/naap-platform/naap-runtime/internal/gateway/proxy"
	"github.com/naap-platform/naap-runtime/internal/gateway/resolve"
	"github.com/naap-platform/naap-runtime/internal/gateway/templates"
	"github.com/naap-platform/naap-runtime/internal/jobs"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/hooks"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/monitor"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/ports"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/provision"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/versions"
	"github.com/naap-platform/naap-runtime/internal/middleware"
	"github.com/naap-platform/naap-runtime/internal/orchestrator"
)

// secretKeySalt is the PBKDF2 salt used when SECRETS_KEY is a passphrase
// rather than a base64-encoded 32-byte key. It must never change or every
// sealed credential becomes unreadable.
var secretKeySalt = []byte("naap-connector-secrets-v1")

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	healthCheckJob *jobs.HealthCheckJob
	processMonitor *monitor.ProcessMonitor
	slotHealth     *healthmon.Monitor
	planLimiter    *middleware.PlanLimiter
	rateLimiters   []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests drain first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.healthCheckJob != nil {
		bg.healthCheckJob.Stop()
	}
	if bg.processMonitor != nil {
		bg.processMonitor.StopAll()
	}
	if bg.slotHealth != nil {
		bg.slotHealth.Shutdown()
	}
	if bg.planLimiter != nil {
		bg.planLimiter.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// rollbackAdapter narrows the provisioner to the rollback capability the slot
// health monitor is allowed to exercise.
type rollbackAdapter struct {
	provisioner *provision.Provisioner
}

func (r rollbackAdapter) Rollback(ctx context.Context, deploymentID string) error {
	_, err := r.provisioner.Rollback(ctx, deploymentID)
	return err
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories.
	connectorRepo := repositories.NewConnectorRepository(db)
	templateRepo := repositories.NewTemplateRepository(db)
	planRepo := repositories.NewPlanRepository(db)
	keyRepo := repositories.NewGatewayKeyRepository(db)
	healthRepo := repositories.NewHealthCheckRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	slotRepo := repositories.NewSlotRepository(db)
	pluginRepo := repositories.NewPluginRepository(db)

	// Connector credential cipher, keyed from the environment.
	cipher, err := newSecretCipher()
	if err != nil {
		log.Fatalf("Failed to initialize secret cipher: %v", err)
	}

	// Identity and ownership.
	sessions := auth.NewSessionValidator(cfg.Identity.JWTSecret, cfg.Identity.BaseSvcURL)
	teamGuard := guard.New(sessions, connectorRepo)
	resolver := resolve.New(connectorRepo, cfg.Gateway.ResolveCacheTTL)

	// Gateway services.
	tester := probe.NewTester(cfg.Gateway.ProbeTimeout, cfg.Gateway.DegradedThreshold, cipher)
	templateSvc := templates.NewService(templateRepo, connectorRepo)
	auditor := audit.NewLogger(auditRepo)
	forwarder := proxy.NewForwarder(cfg.Server.WriteTimeout, false)

	// Plan quota limiter, Redis-backed when configured.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		slog.Info("plan quota limiter using redis", "addr", cfg.Redis.Addr)
	}
	planLimiter := middleware.NewPlanLimiter(rdb)

	// Connector health sweep job.
	healthCheckJob := jobs.NewHealthCheckJob(connectorRepo, healthRepo, tester, jobs.Config{
		Interval:     cfg.Gateway.HealthCheckEvery,
		Concurrency:  cfg.Gateway.ProbeConcurrency,
		ProbeTimeout: cfg.Gateway.ProbeTimeout,
	})
	if cfg.Gateway.HealthCheckEnabled {
		healthCheckJob.Start()
		slog.Info("connector health check job started", "interval", cfg.Gateway.HealthCheckEvery)
	}

	// Plugin lifecycle services.
	orch, err := orchestrator.NewDockerOrchestrator()
	if err != nil {
		log.Fatalf("Failed to initialize container orchestrator: %v", err)
	}
	alloc, err := ports.NewAllocator(cfg.Lifecycle.PortRangeStart, cfg.Lifecycle.PortRangeEnd)
	if err != nil {
		log.Fatalf("Failed to initialize port allocator: %v", err)
	}
	hookExec := hooks.NewExecutor("", cfg.Lifecycle.HookTimeout)
	schemaMgr := repositories.NewSchemaManager(db)
	provisioner := provision.NewProvisioner(slotRepo, alloc, hookExec, orch, schemaMgr, provision.Config{
		HealthAttempts:   cfg.Lifecycle.HealthAttempts,
		HealthRetryDelay: cfg.Lifecycle.HealthRetryDelay,
	})
	versionMgr := versions.NewManager(pluginRepo)
	processMonitor := monitor.NewProcessMonitor(orch, cfg.Lifecycle.MonitorInterval, cfg.Lifecycle.MaxFailedChecks)
	slotHealth := healthmon.NewMonitor(slotRepo, rollbackAdapter{provisioner}, nil, healthmon.Config{
		Interval:           cfg.Lifecycle.MonitorInterval,
		UnhealthyThreshold: cfg.Lifecycle.UnhealthyThreshold,
		HealthyThreshold:   cfg.Lifecycle.HealthyThreshold,
	})

	// Rebuild lifecycle state from persisted slots: active ports must not be
	// handed out again, and active backends go back under watch.
	if activeSlots, err := slotRepo.ListActiveSlots(context.Background()); err != nil {
		slog.Error("list active slots at boot", "error", err)
	} else {
		for _, slot := range activeSlots {
			if slot.Port != nil {
				key := fmt.Sprintf("%s/%s", slot.DeploymentID, slot.Slot)
				if err := alloc.Reserve(key, *slot.Port); err != nil {
					slog.Warn("reserve slot port", "deployment", slot.DeploymentID, "port", *slot.Port, "error", err)
				}
			}
			slotHealth.Watch(slot, healthmon.WatchConfig{})
		}
		slog.Info("restored plugin slot state", "active_slots", len(activeSlots))
	}

	// Middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Rate limiters.
	adminLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		adminLimitCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		adminLimitCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}
	adminRateLimiter := middleware.NewRateLimiter(adminLimitCfg)
	proxyRateLimiter := middleware.NewRateLimiter(middleware.ProxyRateLimitConfig())
	rateLimit := func(rl *middleware.RateLimiter) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(rl)
	}

	// System endpoints.
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	// Admin handlers.
	connectorHandlers := admin.NewConnectorHandlers(teamGuard, connectorRepo, healthRepo, resolver, tester, cipher, auditor)
	templateHandlers := admin.NewTemplateHandlers(templateSvc, resolver, auditor)
	keyHandlers := admin.NewKeyHandlers(teamGuard, keyRepo, planRepo, auditor)
	planHandlers := admin.NewPlanHandlers(planRepo, auditor)
	healthHandlers := admin.NewHealthCheckHandlers(teamGuard, healthCheckJob, cfg.Gateway.CronSecret, auditor)
	auditHandlers := admin.NewAuditHandlers(auditRepo)

	// health/check sits outside the guard middleware: it authenticates inside
	// the handler so the cron runner's shared secret works without a session.
	router.GET("/api/v1/gw/admin/health/check", rateLimit(adminRateLimiter), healthHandlers.Run())
	router.POST("/api/v1/gw/admin/health/check", rateLimit(adminRateLimiter), healthHandlers.Run())

	adminGroup := router.Group("/api/v1/gw/admin")
	adminGroup.Use(rateLimit(adminRateLimiter))
	adminGroup.Use(teamGuard.Middleware())
	{
		adminGroup.GET("/connectors", connectorHandlers.List())
		adminGroup.POST("/connectors", connectorHandlers.Create())
		adminGroup.GET("/connectors/:id", connectorHandlers.Get())
		adminGroup.PUT("/connectors/:id", connectorHandlers.Update())
		adminGroup.DELETE("/connectors/:id", connectorHandlers.Delete())
		adminGroup.POST("/connectors/:id/test", connectorHandlers.Test())
		adminGroup.GET("/connectors/:id/health", connectorHandlers.Health())

		adminGroup.GET("/templates", templateHandlers.List())
		adminGroup.POST("/templates", templateHandlers.Apply())

		adminGroup.GET("/keys", keyHandlers.List())
		adminGroup.POST("/keys", keyHandlers.Create())
		adminGroup.DELETE("/keys/:id", keyHandlers.Revoke())

		adminGroup.GET("/plans", planHandlers.List())
		adminGroup.POST("/plans", planHandlers.Create())
		adminGroup.GET("/plans/:id", planHandlers.Get())
		adminGroup.PUT("/plans/:id", planHandlers.Update())
		adminGroup.DELETE("/plans/:id", planHandlers.Delete())

		adminGroup.GET("/audit", auditHandlers.List())
	}

	// Plugin lifecycle endpoints.
	pluginHandlers := plugins.NewHandlers(sessions, provisioner, versionMgr, pluginRepo, processMonitor, slotHealth, auditor)
	pluginGroup := router.Group("/api/v1/plugins")
	pluginGroup.Use(rateLimit(adminRateLimiter))
	{
		pluginGroup.POST("/provision", pluginHandlers.Provision())
		pluginGroup.POST("/:deployment/rollback", pluginHandlers.Rollback())
		pluginGroup.POST("/:deployment/check", pluginHandlers.TriggerCheck())
		pluginGroup.GET("/monitor", pluginHandlers.MonitorStates())
	}

	// Proxy data path.
	proxyHandler := NewProxyHandler(sessions, keyRepo, planRepo, resolver, forwarder, planLimiter)
	router.Any("/api/v1/gw/proxy/:slug/*path", rateLimit(proxyRateLimiter), proxyHandler.Handle())

	bg := &BackgroundServices{
		healthCheckJob: healthCheckJob,
		processMonitor: processMonitor,
		slotHealth:     slotHealth,
		planLimiter:    planLimiter,
		rateLimiters:   []*middleware.RateLimiter{adminRateLimiter, proxyRateLimiter},
	}

	return router, bg
}

// newSecretCipher builds the connector credential cipher from SECRETS_KEY.
// A base64 value decoding to exactly 32 bytes is used directly; anything else
// is treated as a passphrase and stretched with PBKDF2. An empty value gets
// an ephemeral key, which only suits development: secrets sealed with it do
// not survive a restart.
func newSecretCipher() (*crypto.SecretCipher, error) {
	raw := os.Getenv("SECRETS_KEY")
	if raw == "" {
		slog.Warn("SECRETS_KEY not set, using an ephemeral key; sealed connector credentials will not survive a restart")
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		return crypto.NewSecretCipher(key)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		return crypto.NewSecretCipher(decoded)
	}
	return crypto.DeriveSecretCipher(raw, secretKeySalt, 100000)
}

// healthCheckHandler returns the health status of the service.
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Unlike the
// liveness probe (/health), this also checks Redis when plan quotas are
// Redis-backed, so a readiness gate fails while quota state is unreachable.
func readinessHandler(db *sqlx.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
			"surfaces": gin.H{
				"admin":   "v1",
				"plugins": "v1",
				"proxy":   "v1",
			},
		})
	}
}

// LoggerMiddleware logs each request as a structured slog record. The output
// format follows the global handler configured in telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the admin dashboard origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Team-Id")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
