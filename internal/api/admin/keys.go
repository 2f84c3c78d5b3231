package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/auth"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
)

// KeyHandlers manages gateway API keys.
type KeyHandlers struct {
	guard   *guard.Guard
	keys    *repositories.GatewayKeyRepository
	plans   *repositories.PlanRepository
	auditor *audit.Logger
}

// NewKeyHandlers creates a KeyHandlers instance.
func NewKeyHandlers(g *guard.Guard, keys *repositories.GatewayKeyRepository,
	plans *repositories.PlanRepository, auditor *audit.Logger) *KeyHandlers {
	return &KeyHandlers{guard: g, keys: keys, plans: plans, auditor: auditor}
}

// List returns the team's keys. Hashes never leave the database layer's
// struct; the model's json tags hide them.
// GET /api/v1/gw/admin/keys
func (h *KeyHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		keys, err := h.keys.ListForTeam(c.Request.Context(), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys", "code": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}

// CreateKeyRequest is the body of a key creation.
type CreateKeyRequest struct {
	Name        string  `json:"name" binding:"required"`
	ConnectorID string  `json:"connector_id" binding:"required"`
	PlanID      string  `json:"plan_id" binding:"required"`
	ExpiresAt   *string `json:"expires_at"` // RFC3339
}

// Create mints a new key. The raw key appears in this response and never
// again; only its bcrypt hash is stored.
// POST /api/v1/gw/admin/keys
func (h *KeyHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		var req CreateKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
			return
		}

		// The connector and plan must both belong to the caller's team.
		if _, ok := h.guard.LoadConnector(c, ident, req.ConnectorID); !ok {
			return
		}
		plan, err := h.plans.GetByIDForTeam(c.Request.Context(), req.PlanID, ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan", "code": "internal_error"})
			return
		}
		if plan == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found", "code": "not_found"})
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC3339", "code": "validation_failed"})
				return
			}
			expiresAt = &t
		}

		rawKey, hash, prefix, err := auth.GenerateGatewayKey()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate key", "code": "internal_error"})
			return
		}

		key := &models.GatewayAPIKey{
			TeamID:      ident.TeamID,
			ConnectorID: req.ConnectorID,
			PlanID:      req.PlanID,
			Name:        req.Name,
			KeyHash:     hash,
			KeyPrefix:   prefix,
			ExpiresAt:   expiresAt,
		}
		if err := h.keys.Create(c.Request.Context(), key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create key", "code": "internal_error"})
			return
		}

		h.auditor.Record(auditEntry(c, ident, models.AuditKeyCreated, "gateway_key", key.ID))
		c.JSON(http.StatusCreated, gin.H{
			"key_record": key,
			"key":        rawKey, // shown once
		})
	}
}

// Revoke permanently deletes a key.
// DELETE /api/v1/gw/admin/keys/:id
func (h *KeyHandlers) Revoke() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		key, err := h.keys.GetByIDForTeam(c.Request.Context(), c.Param("id"), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load key", "code": "internal_error"})
			return
		}
		if key == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found", "code": "not_found"})
			return
		}

		if err := h.keys.Revoke(c.Request.Context(), key.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke key", "code": "internal_error"})
			return
		}

		h.auditor.Record(auditEntry(c, ident, models.AuditKeyRevoked, "gateway_key", key.ID))
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}
