package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/auth"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/proxy"
	"github.com/naap-platform/naap-runtime/internal/gateway/resolve"
	"github.com/naap-platform/naap-runtime/internal/middleware"
	"github.com/naap-platform/naap-runtime/internal/safego"
)

// ProxyHandler serves the data path: ANY /api/v1/gw/proxy/:slug/*path.
// Callers authenticate with either a gateway API key (scoped to one connector
// and metered by its plan) or a platform session (scoped by team header or
// personal ownership).
type ProxyHandler struct {
	sessions    *auth.SessionValidator
	keys        *repositories.GatewayKeyRepository
	plans       *repositories.PlanRepository
	resolver    *resolve.Cache
	forwarder   *proxy.Forwarder
	planLimiter *middleware.PlanLimiter
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(sessions *auth.SessionValidator, keys *repositories.GatewayKeyRepository,
	plans *repositories.PlanRepository, resolver *resolve.Cache,
	forwarder *proxy.Forwarder, planLimiter *middleware.PlanLimiter) *ProxyHandler {
	return &ProxyHandler{
		sessions:    sessions,
		keys:        keys,
		plans:       plans,
		resolver:    resolver,
		forwarder:   forwarder,
		planLimiter: planLimiter,
	}
}

// Handle authenticates, resolves and forwards one proxied request.
func (h *ProxyHandler) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.Param("slug")
		upstreamPath := c.Param("path")
		if upstreamPath == "" {
			upstreamPath = "/"
		}

		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}

		var resolved *resolve.Resolved
		if strings.HasPrefix(token, auth.GatewayKeyScheme+"_") {
			resolved = h.resolveByKey(c, token, slug)
		} else {
			resolved = h.resolveBySession(c, token, slug)
		}
		if resolved == nil {
			return // response already written
		}

		endpoint := matchEndpoint(resolved.Endpoints, c.Request.Method, upstreamPath)
		if len(resolved.Endpoints) > 0 && endpoint == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no matching endpoint", "code": "not_found"})
			return
		}

		ctx := c.Request.Context()
		target := upstreamPath
		if endpoint != nil {
			target = rewritePath(endpoint, upstreamPath)
			if endpoint.TimeoutMs != nil && *endpoint.TimeoutMs > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(*endpoint.TimeoutMs)*time.Millisecond)
				defer cancel()
			}
		}

		if err := h.forwarder.Forward(ctx, c.Writer, c.Request, resolved, target); err != nil {
			if c.Writer.Written() {
				return // upstream response already partially sent
			}
			switch {
			case errors.Is(err, proxy.ErrHostNotAllowed), errors.Is(err, proxy.ErrUpstreamUnreachable):
				c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unreachable", "code": "upstream_unreachable"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "proxy failure", "code": "internal_error"})
			}
		}
	}
}

// resolveByKey authenticates a gateway API key, applies its plan limits and
// resolves the connector it is bound to. Writes the error response and
// returns nil on any failure.
func (h *ProxyHandler) resolveByKey(c *gin.Context, token, slug string) *resolve.Resolved {
	key, err := h.keys.GetByPrefix(c.Request.Context(), auth.KeyPrefix(token))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up key", "code": "internal_error"})
		return nil
	}
	if key == nil || !auth.ValidateGatewayKey(token, key.KeyHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid gateway key", "code": "unauthorized"})
		return nil
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "gateway key expired", "code": "unauthorized"})
		return nil
	}

	resolved, err := h.resolver.ResolveForTeam(c.Request.Context(), key.TeamID, slug)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve connector", "code": "internal_error"})
		return nil
	}
	// The key is bound to exactly one connector; a valid key for connector A
	// buys nothing on connector B.
	if resolved == nil || resolved.Connector.ID != key.ConnectorID {
		c.JSON(http.StatusNotFound, gin.H{"error": "connector not found", "code": "not_found"})
		return nil
	}

	plan, err := h.plans.GetByIDForTeam(c.Request.Context(), key.PlanID, key.TeamID)
	if err != nil || plan == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan", "code": "internal_error"})
		return nil
	}
	decision, err := h.planLimiter.Allow(c.Request.Context(), key.ID, plan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check quota", "code": "internal_error"})
		return nil
	}
	if !decision.Allowed {
		retry := int(decision.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "plan limit exceeded", "code": "rate_limited"})
		return nil
	}

	keyID := key.ID
	repo := h.keys
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = repo.UpdateLastUsed(ctx, keyID)
	})

	return resolved
}

// resolveBySession authenticates a platform session and resolves the slug in
// its team or personal scope.
func (h *ProxyHandler) resolveBySession(c *gin.Context, token, slug string) *resolve.Resolved {
	principal, err := h.sessions.Validate(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrSessionInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session is invalid or expired", "code": "unauthorized"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity service unavailable", "code": "dependency_unavailable"})
		}
		return nil
	}

	var resolved *resolve.Resolved
	if teamID := strings.TrimSpace(c.GetHeader("x-team-id")); teamID != "" {
		if !principal.MemberOf(teamID) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not a member of the requested team", "code": "unauthorized"})
			return nil
		}
		resolved, err = h.resolver.ResolveForTeam(c.Request.Context(), teamID, slug)
	} else {
		resolved, err = h.resolver.ResolveForUser(c.Request.Context(), principal.UserID, slug)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve connector", "code": "internal_error"})
		return nil
	}
	if resolved == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connector not found", "code": "not_found"})
		return nil
	}
	return resolved
}

// matchEndpoint finds the endpoint whose method and path prefix cover the
// request, preferring the longest prefix.
func matchEndpoint(endpoints []*models.ConnectorEndpoint, method, path string) *models.ConnectorEndpoint {
	var best *models.ConnectorEndpoint
	for _, ep := range endpoints {
		if !strings.EqualFold(ep.Method, method) && ep.Method != "*" {
			continue
		}
		if path != ep.Path && !strings.HasPrefix(path, strings.TrimSuffix(ep.Path, "/")+"/") {
			continue
		}
		if best == nil || len(ep.Path) > len(best.Path) {
			best = ep
		}
	}
	return best
}

// rewritePath maps the request path onto the endpoint's upstream path,
// carrying any remainder beyond the matched prefix.
func rewritePath(ep *models.ConnectorEndpoint, path string) string {
	if ep.UpstreamPath == "" {
		return path
	}
	remainder := strings.TrimPrefix(path, strings.TrimSuffix(ep.Path, "/"))
	if remainder == path {
		remainder = ""
	}
	return strings.TrimSuffix(ep.UpstreamPath, "/") + remainder
}
