// Package admin implements the gateway admin HTTP handlers mounted under
// /api/v1/gw/admin. Every handler runs behind the team guard: callers carry a
// platform session and an x-team-id they belong to, and every lookup is
// team-scoped. Mutations invalidate the resolve cache before returning and
// record a best-effort audit entry.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/crypto"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
	"github.com/naap-platform/naap-runtime/internal/gateway/probe"
	"github.com/naap-platform/naap-runtime/internal/gateway/resolve"
	"github.com/naap-platform/naap-runtime/internal/gateway/templates"
)

// ConnectorHandlers serves the connector CRUD and probe endpoints.
type ConnectorHandlers struct {
	guard      *guard.Guard
	connectors *repositories.ConnectorRepository
	checks     *repositories.HealthCheckRepository
	resolver   *resolve.Cache
	tester     *probe.Tester
	cipher     *crypto.SecretCipher
	auditor    *audit.Logger
}

// NewConnectorHandlers creates a ConnectorHandlers instance.
func NewConnectorHandlers(g *guard.Guard, connectors *repositories.ConnectorRepository,
	checks *repositories.HealthCheckRepository, resolver *resolve.Cache,
	tester *probe.Tester, cipher *crypto.SecretCipher, auditor *audit.Logger) *ConnectorHandlers {
	return &ConnectorHandlers{
		guard:      g,
		connectors: connectors,
		checks:     checks,
		resolver:   resolver,
		tester:     tester,
		cipher:     cipher,
		auditor:    auditor,
	}
}

// auditEntry builds the common fields of an audit record from the request.
func auditEntry(c *gin.Context, ident *guard.Identity, action, resource string, resourceID string) *models.AuditLog {
	ip := c.ClientIP()
	ua := c.Request.UserAgent()
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		UserID:    &ident.Principal.UserID,
		TeamID:    &ident.TeamID,
		IPAddress: &ip,
		UserAgent: &ua,
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return entry
}

// secretFields maps each auth type to the auth_config keys holding secrets.
var secretFields = map[string][]string{
	models.AuthTypeAPIKey: {"key"},
	models.AuthTypeBearer: {"token"},
	models.AuthTypeBasic:  {"password"},
}

// sealSecrets encrypts the secret values of an auth config in place. Values
// already sealed by a previous update round-trip unchanged because clients
// send back the opaque ciphertext they were given.
func (h *ConnectorHandlers) sealSecrets(authType string, cfg map[string]interface{}) error {
	if h.cipher == nil || cfg == nil {
		return nil
	}
	for _, field := range secretFields[authType] {
		raw, ok := cfg[field].(string)
		if !ok || raw == "" {
			continue
		}
		if _, err := h.cipher.Open(raw); err == nil {
			continue // already sealed
		}
		sealed, err := h.cipher.Seal(raw)
		if err != nil {
			return err
		}
		cfg[field] = sealed
	}
	return nil
}

// invalidate drops the connector's resolve cache entry for its owner scope.
func (h *ConnectorHandlers) invalidate(conn *models.ServiceConnector) {
	if conn.TeamID != nil {
		h.resolver.InvalidateTeam(*conn.TeamID, conn.Slug)
	}
	if conn.OwnerUserID != nil {
		h.resolver.InvalidateUser(*conn.OwnerUserID, conn.Slug)
	}
}

// redact strips secret values from a connector before it goes on the wire.
func redact(conn *models.ServiceConnector) *models.ServiceConnector {
	if conn.AuthConfig == nil {
		return conn
	}
	out := *conn
	out.AuthConfig = make(map[string]interface{}, len(conn.AuthConfig))
	for k, v := range conn.AuthConfig {
		out.AuthConfig[k] = v
	}
	for _, field := range secretFields[conn.AuthType] {
		if _, ok := out.AuthConfig[field]; ok {
			out.AuthConfig[field] = "********"
		}
	}
	return &out
}

// List returns the team's connectors.
// GET /api/v1/gw/admin/connectors
func (h *ConnectorHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		connectors, err := h.connectors.ListForTeam(c.Request.Context(), ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list connectors", "code": "internal_error"})
			return
		}

		out := make([]*models.ServiceConnector, 0, len(connectors))
		for _, conn := range connectors {
			out = append(out, redact(conn))
		}
		c.JSON(http.StatusOK, gin.H{"connectors": out})
	}
}

// Get returns one connector with its endpoints.
// GET /api/v1/gw/admin/connectors/:id
func (h *ConnectorHandlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		conn, endpoints, ok := h.guard.LoadConnectorWithEndpoints(c, ident, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"connector": redact(conn), "endpoints": endpoints})
	}
}

// CreateConnectorRequest is the body of a direct connector creation.
type CreateConnectorRequest struct {
	Slug            string                      `json:"slug" binding:"required"`
	Name            string                      `json:"name" binding:"required"`
	UpstreamBaseURL string                      `json:"upstream_base_url" binding:"required"`
	AllowedHosts    []string                    `json:"allowed_hosts"`
	AuthType        string                      `json:"auth_type"`
	AuthConfig      map[string]interface{}      `json:"auth_config"`
	HealthCheckPath string                      `json:"health_check_path"`
	Endpoints       []*models.ConnectorEndpoint `json:"endpoints"`
}

// Create makes a new team-owned connector.
// POST /api/v1/gw/admin/connectors
func (h *ConnectorHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		var req CreateConnectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
			return
		}
		if err := templates.ValidateSlug(req.Slug); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_slug"})
			return
		}

		existing, err := h.connectors.GetBySlugForTeam(c.Request.Context(), req.Slug, ident.TeamID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check slug", "code": "internal_error"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "connector with slug \"" + req.Slug + "\" already exists",
				"code":  "slug_conflict",
			})
			return
		}

		if req.AuthType == "" {
			req.AuthType = models.AuthTypeNone
		}
		if err := h.sealSecrets(req.AuthType, req.AuthConfig); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to protect credentials", "code": "internal_error"})
			return
		}

		conn := &models.ServiceConnector{
			Slug:            req.Slug,
			Name:            req.Name,
			TeamID:          &ident.TeamID,
			UpstreamBaseURL: req.UpstreamBaseURL,
			AllowedHosts:    req.AllowedHosts,
			AuthType:        req.AuthType,
			AuthConfig:      req.AuthConfig,
			HealthCheckPath: req.HealthCheckPath,
			Status:          models.ConnectorStatusDraft,
		}
		if err := h.connectors.CreateWithEndpoints(c.Request.Context(), conn, req.Endpoints); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create connector", "code": "internal_error"})
			return
		}

		h.invalidate(conn)
		h.auditor.Record(auditEntry(c, ident, models.AuditConnectorCreated, "connector", conn.ID))
		c.JSON(http.StatusCreated, gin.H{"connector": redact(conn)})
	}
}

// UpdateConnectorRequest carries the mutable connector fields plus the
// version the client last saw (optimistic concurrency).
type UpdateConnectorRequest struct {
	Name            string                      `json:"name"`
	UpstreamBaseURL string                      `json:"upstream_base_url"`
	AllowedHosts    []string                    `json:"allowed_hosts"`
	AuthType        string                      `json:"auth_type"`
	AuthConfig      map[string]interface{}      `json:"auth_config"`
	HealthCheckPath string                      `json:"health_check_path"`
	Status          string                      `json:"status"`
	Version         int                         `json:"version" binding:"required"`
	Endpoints       []*models.ConnectorEndpoint `json:"endpoints"`
}

// Update mutates one connector.
// PUT/PATCH /api/v1/gw/admin/connectors/:id
func (h *ConnectorHandlers) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		conn, ok := h.guard.LoadConnector(c, ident, c.Param("id"))
		if !ok {
			return
		}

		var req UpdateConnectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_failed"})
			return
		}

		if req.Name != "" {
			conn.Name = req.Name
		}
		if req.UpstreamBaseURL != "" {
			conn.UpstreamBaseURL = req.UpstreamBaseURL
		}
		if req.AllowedHosts != nil {
			conn.AllowedHosts = req.AllowedHosts
		}
		if req.AuthType != "" {
			conn.AuthType = req.AuthType
		}
		if req.AuthConfig != nil {
			if err := h.sealSecrets(conn.AuthType, req.AuthConfig); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to protect credentials", "code": "internal_error"})
				return
			}
			conn.AuthConfig = req.AuthConfig
		}
		if req.HealthCheckPath != "" {
			conn.HealthCheckPath = req.HealthCheckPath
		}
		if req.Status != "" {
			switch req.Status {
			case models.ConnectorStatusDraft, models.ConnectorStatusPublished, models.ConnectorStatusArchived:
				conn.Status = req.Status
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status", "code": "validation_failed"})
				return
			}
		}

		applied, err := h.connectors.Update(c.Request.Context(), conn, req.Version)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update connector", "code": "internal_error"})
			return
		}
		if !applied {
			c.JSON(http.StatusConflict, gin.H{
				"error": "connector was modified by another request",
				"code":  "version_conflict",
			})
			return
		}

		if req.Endpoints != nil {
			if err := h.connectors.ReplaceEndpoints(c.Request.Context(), conn.ID, req.Endpoints); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update endpoints", "code": "internal_error"})
				return
			}
		}

		conn.Version = req.Version + 1
		h.invalidate(conn)
		h.auditor.Record(auditEntry(c, ident, models.AuditConnectorUpdated, "connector", conn.ID))
		c.JSON(http.StatusOK, gin.H{"connector": redact(conn)})
	}
}

// Delete removes a connector.
// DELETE /api/v1/gw/admin/connectors/:id
func (h *ConnectorHandlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		conn, ok := h.guard.LoadConnector(c, ident, c.Param("id"))
		if !ok {
			return
		}

		if err := h.connectors.Delete(c.Request.Context(), conn.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete connector", "code": "internal_error"})
			return
		}

		h.invalidate(conn)
		h.auditor.Record(auditEntry(c, ident, models.AuditConnectorDeleted, "connector", conn.ID))
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// Test runs an on-demand connectivity probe and persists the result.
// POST /api/v1/gw/admin/connectors/:id/test
func (h *ConnectorHandlers) Test() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		conn, ok := h.guard.LoadConnector(c, ident, c.Param("id"))
		if !ok {
			return
		}

		check, err := h.tester.Test(c.Request.Context(), conn)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "upstream_unreachable"})
			return
		}
		if err := h.checks.Create(c.Request.Context(), check); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist check", "code": "internal_error"})
			return
		}

		h.auditor.Record(auditEntry(c, ident, models.AuditConnectorTested, "connector", conn.ID))
		c.JSON(http.StatusOK, gin.H{"check": check})
	}
}

// Health returns the recent probe series for a connector.
// GET /api/v1/gw/admin/connectors/:id/health
func (h *ConnectorHandlers) Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := guard.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		conn, ok := h.guard.LoadConnector(c, ident, c.Param("id"))
		if !ok {
			return
		}

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := parsePositiveInt(raw); err == nil {
				limit = n
			}
		}

		checks, err := h.checks.ListByConnector(c.Request.Context(), conn.ID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load health history", "code": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checks": checks})
	}
}
