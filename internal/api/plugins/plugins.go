// Package plugins implements the plugin lifecycle HTTP handlers: provision a
// version into a deployment, roll a deployment back and inspect the process
// monitor. These are platform-internal endpoints: the web shell calls them
// with a platform session, and there is no team scoping because plugin
// deployments are platform-wide resources.
package plugins

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/auth"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/healthmon"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/hooks"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/monitor"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/ports"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/provision"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/versions"
)

// Handlers serves the plugin lifecycle endpoints.
type Handlers struct {
	sessions    *auth.SessionValidator
	provisioner *provision.Provisioner
	versions    *versions.Manager
	packages    *repositories.PluginRepository
	monitor     *monitor.ProcessMonitor
	slotHealth  *healthmon.Monitor
	auditor     *audit.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(sessions *auth.SessionValidator, provisioner *provision.Provisioner,
	vm *versions.Manager, packages *repositories.PluginRepository,
	pm *monitor.ProcessMonitor, slotHealth *healthmon.Monitor, auditor *audit.Logger) *Handlers {
	return &Handlers{
		sessions:    sessions,
		provisioner: provisioner,
		versions:    vm,
		packages:    packages,
		monitor:     pm,
		slotHealth:  slotHealth,
		auditor:     auditor,
	}
}

// authenticate validates the platform session. Lifecycle calls need a valid
// session but no team header.
func (h *Handlers) authenticate(c *gin.Context) (*auth.Principal, bool) {
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
			"code":  "unauthorized",
		})
		return nil, false
	}
	principal, err := h.sessions.Validate(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrSessionInvalid) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "session is invalid or expired",
				"code":  "unauthorized",
			})
		} else {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "identity service unavailable",
				"code":  "dependency_unavailable",
			})
		}
		return nil, false
	}
	return principal, true
}

func (h *Handlers) audit(c *gin.Context, principal *auth.Principal, action, resourceID string) {
	ip := c.ClientIP()
	ua := c.Request.UserAgent()
	h.auditor.Record(&models.AuditLog{
		Action:     action,
		Resource:   "plugin_deployment",
		ResourceID: &resourceID,
		UserID:     &principal.UserID,
		IPAddress:  &ip,
		UserAgent:  &ua,
	})
}

// ProvisionRequest is the body of a provisioning call.
type ProvisionRequest struct {
	DeploymentID string                `json:"deployment_id" binding:"required"`
	Manifest     models.PluginManifest `json:"manifest" binding:"required"`
	Env          map[string]string     `json:"env"`
}

// Provision deploys a manifest's version into the deployment's inactive slot
// and promotes it. The version must not collide with an already-published
// version of the same package.
// POST /api/v1/plugins/provision
func (h *Handlers) Provision() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := h.authenticate(c)
		if !ok {
			return
		}

		var req ProvisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
			return
		}

		pkg, err := h.packages.GetPackageByName(c.Request.Context(), req.Manifest.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load package", "code": "internal_error"})
			return
		}
		if pkg != nil {
			if err := h.versions.CheckConflict(c.Request.Context(), pkg.ID, req.Manifest.Version); err != nil {
				switch {
				case errors.Is(err, versions.ErrVersionInvalid):
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
				case errors.Is(err, versions.ErrVersionConflict):
					resp := gin.H{"error": err.Error(), "code": "version_conflict"}
					var conflict *versions.Conflict
					if errors.As(err, &conflict) {
						resp["conflict"] = conflict.Kind
					}
					c.JSON(http.StatusConflict, resp)
				default:
					c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check version", "code": "internal_error"})
				}
				return
			}
		}

		outcome, err := h.provisioner.Provision(c.Request.Context(), &provision.Request{
			DeploymentID: req.DeploymentID,
			Manifest:     req.Manifest,
			Env:          req.Env,
		})
		if err != nil {
			switch {
			case errors.Is(err, ports.ErrRangeExhausted):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "port_range_exhausted"})
			case errors.Is(err, hooks.ErrScriptRejected):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "hook_rejected"})
			case errors.Is(err, provision.ErrHealthCheckFailed):
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "upstream_unreachable"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "internal_error"})
			}
			return
		}

		if pkg != nil {
			v := &models.PluginVersion{PackageID: pkg.ID, Version: outcome.Version}
			if err := h.packages.CreateVersion(c.Request.Context(), v); err != nil {
				// The deployment already succeeded; the registry row is
				// reconciled by the next publish.
				slog.Error("record plugin version", "package", pkg.ID, "version", outcome.Version, "error", err)
			}
		}

		if outcome.BackendURL != nil {
			h.monitor.StartMonitoring(monitor.Target{
				Plugin:    req.Manifest.Name,
				HealthURL: *outcome.BackendURL + "/health",
			})
		}

		h.audit(c, principal, models.AuditPluginProvisioned, req.DeploymentID)
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
	}
}

// Rollback reactivates the deployment's standby slot.
// POST /api/v1/plugins/:deployment/rollback
func (h *Handlers) Rollback() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := h.authenticate(c)
		if !ok {
			return
		}

		deploymentID := c.Param("deployment")
		outcome, err := h.provisioner.Rollback(c.Request.Context(), deploymentID)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "internal_error"})
			return
		}

		h.audit(c, principal, models.AuditPluginRolledBack, deploymentID)
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
	}
}

// MonitorStates lists the process monitor's view of every watched plugin.
// GET /api/v1/plugins/monitor
func (h *Handlers) MonitorStates() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.authenticate(c); !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"plugins": h.monitor.States(),
			"slots":   h.slotHealth.Stats(),
		})
	}
}

// TriggerCheck runs one manual health probe for a plugin.
// POST /api/v1/plugins/:deployment/check
func (h *Handlers) TriggerCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.authenticate(c); !ok {
			return
		}

		plugin := c.Param("deployment")
		healthy := h.monitor.TriggerCheck(c.Request.Context(), plugin)
		c.JSON(http.StatusOK, gin.H{"plugin": plugin, "healthy": healthy})
	}
}
