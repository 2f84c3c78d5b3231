package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
	"github.com/naap-platform/naap-runtime/internal/gateway/resolve"
	"github.com/naap-platform/naap-runtime/internal/gateway/templates"
)

// TemplateHandlers serves the connector template catalog.
type TemplateHandlers struct {
	service  *templates.Service
	resolver *resolve.Cache
	auditor  *audit.Logger
}

// NewTemplateHandlers creates a TemplateHandlers instance.
func NewTemplateHandlers(service *templates.Service, resolver *resolve.Cache, auditor *audit.Logger) *TemplateHandlers {
	return &TemplateHandlers{service: service, resolver: resolver, auditor: auditor}
}

// List returns the template catalog. A store failure shows as an empty
// catalog, never an error page.
// GET /api/v1/gw/admin/templates
func (h *TemplateHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"templates": h.service.List(c.Request.Context())})
	}
}

// ApplyTemplateRequest instantiates one template for the caller's team.
type ApplyTemplateRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
	Slug       string `json:"slug" binding:"required"`
	Name       string `json:"name"`
}

// Apply stamps out a connector from a template.
// POST /api/v1/gw/admin/templates
func (h *TemplateHandlers) Apply() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		var req ApplyTemplateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
			return
		}

		conn, err := h.service.CreateFromTemplate(c.Request.Context(), templates.CreateRequest{
			TemplateID: req.TemplateID,
			Slug:       req.Slug,
			Name:       req.Name,
			TeamID:     &ident.TeamID,
		})
		if err != nil {
			switch {
			case errors.Is(err, templates.ErrInvalidSlug):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_slug"})
			case errors.Is(err, templates.ErrSlugTaken):
				c.JSON(http.StatusConflict, gin.H{
					"error": "connector with slug \"" + req.Slug + "\" already exists",
					"code":  "slug_conflict",
				})
			case errors.Is(err, templates.ErrTemplateNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "template not found", "code": "not_found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply template", "code": "internal_error"})
			}
			return
		}

		h.resolver.InvalidateTeam(ident.TeamID, conn.Slug)
		h.auditor.Record(auditEntry(c, ident, models.AuditTemplateApplied, "connector", conn.ID))
		c.JSON(http.StatusCreated, gin.H{"connector": conn})
	}
}
