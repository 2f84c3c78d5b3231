// Package guard authenticates and scopes gateway admin requests. Every
// admin call needs a valid platform session and an x-team-id the caller
// belongs to; connector lookups are team-scoped, and a connector owned by a
// foreign team is reported not-found rather than forbidden so connector ids
// cannot be enumerated.
package guard

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/auth"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
)

// TeamHeader carries the acting team on every admin request.
const TeamHeader = "x-team-id"

// Identity is the authenticated, team-scoped caller of an admin request.
type Identity struct {
	Principal *auth.Principal
	TeamID    string
}

// RateLimitKey buckets rate limiting by user rather than source IP once the
// caller is authenticated.
func (i *Identity) RateLimitKey() string {
	return "user:" + i.Principal.UserID
}

// ConnectorStore is the slice of the connector repository the guard needs.
type ConnectorStore interface {
	GetByIDForTeam(ctx context.Context, id, teamID string) (*models.ServiceConnector, error)
	ListEndpoints(ctx context.Context, connectorID string) ([]*models.ConnectorEndpoint, error)
}

var _ ConnectorStore = (*repositories.ConnectorRepository)(nil)

// Guard validates sessions and loads team-scoped resources.
type Guard struct {
	sessions   *auth.SessionValidator
	connectors ConnectorStore
}

// New creates a Guard.
func New(sessions *auth.SessionValidator, connectors ConnectorStore) *Guard {
	return &Guard{sessions: sessions, connectors: connectors}
}

// AdminContext authenticates the request and resolves its team. On failure
// it writes the error response and returns ok=false; handlers must return
// immediately.
func (g *Guard) AdminContext(c *gin.Context) (*Identity, bool) {
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
			"code":  "unauthorized",
		})
		return nil, false
	}

	principal, err := g.sessions.Validate(c.Request.Context(), token)
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

	teamID := strings.TrimSpace(c.GetHeader(TeamHeader))
	if teamID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "x-team-id header is required",
			"code":  "team_required",
		})
		return nil, false
	}
	if !principal.MemberOf(teamID) {
		// Non-members get the same answer as a nonexistent team.
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "not a member of the requested team",
			"code":  "unauthorized",
		})
		return nil, false
	}

	return &Identity{Principal: principal, TeamID: teamID}, true
}

// Middleware runs AdminContext and stores the identity on the gin context
// for handlers that prefer pulling it from there.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := g.AdminContext(c)
		if !ok {
			return
		}
		c.Set("identity", ident)
		c.Next()
	}
}

// IdentityFrom retrieves the identity stored by Middleware.
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get("identity")
	if !ok {
		return nil, false
	}
	ident, ok := v.(*Identity)
	return ident, ok
}

// LoadConnector fetches a connector the identity's team owns. Foreign or
// missing connectors both produce a not-found response and ok=false.
func (g *Guard) LoadConnector(c *gin.Context, ident *Identity, connectorID string) (*models.ServiceConnector, bool) {
	conn, err := g.connectors.GetByIDForTeam(c.Request.Context(), connectorID, ident.TeamID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "failed to load connector",
			"code":  "internal_error",
		})
		return nil, false
	}
	if conn == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error": "connector not found",
			"code":  "not_found",
		})
		return nil, false
	}
	return conn, true
}

// LoadConnectorWithEndpoints is LoadConnector plus the endpoint set.
func (g *Guard) LoadConnectorWithEndpoints(c *gin.Context, ident *Identity, connectorID string) (*models.ServiceConnector, []*models.ConnectorEndpoint, bool) {
	conn, ok := g.LoadConnector(c, ident, connectorID)
	if !ok {
		return nil, nil, false
	}
	endpoints, err := g.connectors.ListEndpoints(c.Request.Context(), conn.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "failed to load connector endpoints",
			"code":  "internal_error",
		})
		return nil, nil, false
	}
	return conn, endpoints, true
}
