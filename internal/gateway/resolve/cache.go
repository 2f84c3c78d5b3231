// Package resolve caches connector resolution on the proxy hot path. The
// cache is keyed by ownership scope and slug; admin mutations invalidate
// synchronously before returning, so a client that just updated a connector
// reads its own write.
package resolve

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// Resolved is a connector plus its endpoints, the unit the proxy needs.
type Resolved struct {
	Connector *ServiceConnectorView
	Endpoints []*models.ConnectorEndpoint
}

// ServiceConnectorView is the subset of connector fields the proxy reads.
// Credentials stay out of the cache.
type ServiceConnectorView struct {
	ID              string
	Slug            string
	UpstreamBaseURL string
	AllowedHosts    []string
	AuthType        string
	AuthConfig      map[string]interface{}
	Status          string
}

// Store loads connectors when the cache misses.
type Store interface {
	GetBySlugForTeam(ctx context.Context, slug, teamID string) (*models.ServiceConnector, error)
	GetBySlugForUser(ctx context.Context, slug, userID string) (*models.ServiceConnector, error)
	ListEndpoints(ctx context.Context, connectorID string) ([]*models.ConnectorEndpoint, error)
}

// Cache resolves (scope, slug) to a connector with bounded staleness.
type Cache struct {
	store Store
	cache *gocache.Cache
}

// New creates a resolve cache with the given TTL.
func New(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func teamKey(teamID, slug string) string { return fmt.Sprintf("team:%s:%s", teamID, slug) }
func userKey(userID, slug string) string { return fmt.Sprintf("user:%s:%s", userID, slug) }

// ResolveForTeam returns the published connector for a team scope, caching
// hits and misses alike. Unpublished and missing connectors resolve to
// (nil, nil).
func (c *Cache) ResolveForTeam(ctx context.Context, teamID, slug string) (*Resolved, error) {
	return c.resolve(ctx, teamKey(teamID, slug), func() (*models.ServiceConnector, error) {
		return c.store.GetBySlugForTeam(ctx, slug, teamID)
	})
}

// ResolveForUser is ResolveForTeam for personal connectors.
func (c *Cache) ResolveForUser(ctx context.Context, userID, slug string) (*Resolved, error) {
	return c.resolve(ctx, userKey(userID, slug), func() (*models.ServiceConnector, error) {
		return c.store.GetBySlugForUser(ctx, slug, userID)
	})
}

func (c *Cache) resolve(ctx context.Context, key string, load func() (*models.ServiceConnector, error)) (*Resolved, error) {
	if v, found := c.cache.Get(key); found {
		if v == nil {
			return nil, nil
		}
		return v.(*Resolved), nil
	}

	conn, err := load()
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.Status != models.ConnectorStatusPublished {
		// Negative entries stop repeated lookups for unknown slugs.
		c.cache.Set(key, nil, gocache.DefaultExpiration)
		return nil, nil
	}

	endpoints, err := c.store.ListEndpoints(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{
		Connector: &ServiceConnectorView{
			ID:              conn.ID,
			Slug:            conn.Slug,
			UpstreamBaseURL: conn.UpstreamBaseURL,
			AllowedHosts:    conn.AllowedHosts,
			AuthType:        conn.AuthType,
			AuthConfig:      conn.AuthConfig,
			Status:          conn.Status,
		},
		Endpoints: endpoints,
	}
	c.cache.Set(key, resolved, gocache.DefaultExpiration)
	return resolved, nil
}

// InvalidateTeam drops the cache entry for a team-scoped slug. Called
// synchronously by admin mutations before they return.
func (c *Cache) InvalidateTeam(teamID, slug string) {
	c.cache.Delete(teamKey(teamID, slug))
}

// InvalidateUser drops the cache entry for a personal slug.
func (c *Cache) InvalidateUser(userID, slug string) {
	c.cache.Delete(userKey(userID, slug))
}

// Flush clears the whole cache.
func (c *Cache) Flush() {
	c.cache.Flush()
}
