package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
)

// PlanHandlers manages gateway rate-limit plans.
type PlanHandlers struct {
	plans   *repositories.PlanRepository
	auditor *audit.Logger
}

// NewPlanHandlers creates a PlanHandlers instance.
func NewPlanHandlers(plans *repositories.PlanRepository, auditor *audit.Logger) *PlanHandlers {
	return &PlanHandlers{plans: plans, auditor: auditor}
}

// PlanRequest is the body of plan create/update calls.
type PlanRequest struct {
	Name              string `json:"name" binding:"required"`
	RequestsPerMinute int    `json:"requests_per_minute" binding:"required"`
	Burst             int    `json:"burst"`
	QuotaPerDay       *int   `json:"quota_per_day"`
}

func (r *PlanRequest) validate() (string, bool) {
	if r.RequestsPerMinute <= 0 {
		return "requests_per_minute must be positive", false
	}
	if r.Burst < 0 {
		return "burst must not be negative", false
	}
	if r.QuotaPerDay != nil && *r.QuotaPerDay <= 0 {
		return "quota_per_day must be positive when set", false
	}
	return "", true
}

// List returns the team's plans.
// GET /api/v1/gw/admin/plans
func (h *PlanHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		plans, err := h.plans.ListForTeam(c.Request.Context(), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list plans", "code": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"plans": plans})
	}
}

// Get returns one plan.
// GET /api/v1/gw/admin/plans/:id
func (h *PlanHandlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		plan, err := h.plans.GetByIDForTeam(c.Request.Context(), c.Param("id"), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan", "code": "internal_error"})
			return
		}
		if plan == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found", "code": "not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"plan": plan})
	}
}

// Create makes a new plan.
// POST /api/v1/gw/admin/plans
func (h *PlanHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		var req PlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
			return
		}
		if msg, ok := req.validate(); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "validation_failed"})
			return
		}

		plan := &models.GatewayPlan{
			TeamID:            ident.TeamID,
			Name:              req.Name,
			RequestsPerMinute: req.RequestsPerMinute,
			Burst:             req.Burst,
			QuotaPerDay:       req.QuotaPerDay,
		}
		if plan.Burst == 0 {
			plan.Burst = plan.RequestsPerMinute
		}
		if err := h.plans.Create(c.Request.Context(), plan); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create plan", "code": "internal_error"})
			return
		}

		h.auditor.Record(auditEntry(c, ident, models.AuditPlanCreated, "plan", plan.ID))
		c.JSON(http.StatusCreated, gin.H{"plan": plan})
	}
}

// Update mutates a plan's limits.
// PUT /api/v1/gw/admin/plans/:id
func (h *PlanHandlers) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		plan, err := h.plans.GetByIDForTeam(c.Request.Context(), c.Param("id"), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan", "code": "internal_error"})
			return
		}
		if plan == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found", "code": "not_found"})
			return
		}

		var req PlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
			return
		}
		if msg, ok := req.validate(); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "validation_failed"})
			return
		}

		plan.Name = req.Name
		plan.RequestsPerMinute = req.RequestsPerMinute
		plan.Burst = req.Burst
		if plan.Burst == 0 {
			plan.Burst = plan.RequestsPerMinute
		}
		plan.QuotaPerDay = req.QuotaPerDay
		if err := h.plans.Update(c.Request.Context(), plan); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update plan", "code": "internal_error"})
			return
		}

		h.auditor.Record(auditEntry(c, ident, models.AuditPlanUpdated, "plan", plan.ID))
		c.JSON(http.StatusOK, gin.H{"plan": plan})
	}
}

// Delete removes a plan unless active keys still reference it.
// DELETE /api/v1/gw/admin/plans/:id
func (h *PlanHandlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		plan, err := h.plans.GetByIDForTeam(c.Request.Context(), c.Param("id"), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan", "code": "internal_error"})
			return
		}
		if plan == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found", "code": "not_found"})
			return
		}

		active, err := h.plans.CountActiveKeys(c.Request.Context(), plan.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check plan usage", "code": "internal_error"})
			return
		}
		if active > 0 {
			c.JSON(http.StatusConflict, gin.H{
				"error": "plan is referenced by active keys",
				"code":  "plan_in_use",
				"keys":  active,
			})
			return
		}

		if err := h.plans.Delete(c.Request.Context(), plan.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete plan", "code": "internal_error"})
			return
		}

		h.auditor.Record(auditEntry(c, ident, models.AuditPlanDeleted, "plan", plan.ID))
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
