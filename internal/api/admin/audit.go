package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
)

// AuditHandlers serves the audit trail to team dashboards.
type AuditHandlers struct {
	repo *repositories.AuditRepository
}

// NewAuditHandlers creates an AuditHandlers instance.
func NewAuditHandlers(repo *repositories.AuditRepository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// List returns the team's audit entries, newest first. The team filter is
// forced from the guard identity; callers cannot read other teams' trails.
// GET /api/v1/gw/admin/audit
func (h *AuditHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		filter := repositories.AuditFilter{
			TeamID:   ident.TeamID,
			Action:   c.Query("action"),
			Resource: c.Query("resource"),
			UserID:   c.Query("user_id"),
		}
		if raw := c.Query("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339", "code": "validation_failed"})
				return
			}
			filter.Since = since
		}
		if raw := c.Query("limit"); raw != "" {
			if n, err := parsePositiveInt(raw); err == nil {
				filter.Limit = n
			}
		}
		if raw := c.Query("offset"); raw != "" {
			if n, err := parsePositiveInt(raw); err == nil {
				filter.Offset = n
			}
		}

		entries, err := h.repo.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries", "code": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}
