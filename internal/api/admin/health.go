package admin

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/auth"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
	"github.com/naap-platform/naap-runtime/internal/jobs"
)

// HealthCheckHandlers triggers the connector health sweep on demand. Unlike
// the rest of the admin surface this endpoint accepts two credentials: the
// cron runner's shared secret (sweeps every team) or an admin session (sweeps
// the caller's team only).
type HealthCheckHandlers struct {
	guard      *guard.Guard
	job        *jobs.HealthCheckJob
	cronSecret string
	auditor    *audit.Logger
}

// NewHealthCheckHandlers creates a HealthCheckHandlers instance.
func NewHealthCheckHandlers(g *guard.Guard, job *jobs.HealthCheckJob, cronSecret string, auditor *audit.Logger) *HealthCheckHandlers {
	return &HealthCheckHandlers{guard: g, job: job, cronSecret: cronSecret, auditor: auditor}
}

// isCronRequest checks the bearer token against the shared cron secret.
func (h *HealthCheckHandlers) isCronRequest(c *gin.Context) bool {
	if h.cronSecret == "" {
		return false
	}
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

// Run executes one sweep synchronously and reports the summary.
// GET|POST /api/v1/gw/admin/health/check
func (h *HealthCheckHandlers) Run() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.isCronRequest(c) {
			summary, err := h.job.RunHealthCheck(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "health check sweep failed", "code": "internal_error"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"summary": summary, "scope": "all"})
			return
		}

		// Not the cron secret: require a full admin session.
		ident, ok := h.guard.AdminContext(c)
		if !ok {
			return
		}

		summary, err := h.job.RunHealthCheckForTeam(c.Request.Context(), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "health check sweep failed", "code": "internal_error"})
			return
		}

		h.auditor.Record(auditEntry(c, ident, models.AuditHealthCheckRun, "health_check", ""))
		c.JSON(http.StatusOK, gin.H{"summary": summary, "scope": "team"})
	}
}
