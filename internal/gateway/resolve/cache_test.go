package resolve

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

type countingStore struct {
	connector *models.ServiceConnector
	endpoints []*models.ConnectorEndpoint
	loads     atomic.Int32
}

func (s *countingStore) GetBySlugForTeam(ctx context.Context, slug, teamID string) (*models.ServiceConnector, error) {
	s.loads.Add(1)
	if s.connector != nil && s.connector.Slug == slug {
		return s.connector, nil
	}
	return nil, nil
}

func (s *countingStore) GetBySlugForUser(ctx context.Context, slug, userID string) (*models.ServiceConnector, error) {
	s.loads.Add(1)
	return nil, nil
}

func (s *countingStore) ListEndpoints(ctx context.Context, connectorID string) ([]*models.ConnectorEndpoint, error) {
	return s.endpoints, nil
}

func publishedConnector(slug string) *models.ServiceConnector {
	return &models.ServiceConnector{
		ID:              "conn-1",
		Slug:            slug,
		UpstreamBaseURL: "https://api.example.com",
		Status:          models.ConnectorStatusPublished,
	}
}

func TestResolveForTeam_CachesHit(t *testing.T) {
	store := &countingStore{
		connector: publishedConnector("weather"),
		endpoints: []*models.ConnectorEndpoint{{ID: "ep-1"}},
	}
	c := New(store, time.Minute)

	for i := 0; i < 3; i++ {
		r, err := c.ResolveForTeam(context.Background(), "team-1", "weather")
		if err != nil {
			t.Fatalf("ResolveForTeam: %v", err)
		}
		if r == nil || r.Connector.Slug != "weather" || len(r.Endpoints) != 1 {
			t.Fatalf("resolved = %+v", r)
		}
	}
	if store.loads.Load() != 1 {
		t.Errorf("store loads = %d, want 1", store.loads.Load())
	}
}

func TestResolveForTeam_CachesMiss(t *testing.T) {
	store := &countingStore{}
	c := New(store, time.Minute)

	for i := 0; i < 3; i++ {
		r, err := c.ResolveForTeam(context.Background(), "team-1", "ghost")
		if err != nil {
			t.Fatalf("ResolveForTeam: %v", err)
		}
		if r != nil {
			t.Fatalf("resolved = %+v, want nil", r)
		}
	}
	if store.loads.Load() != 1 {
		t.Errorf("store loads = %d, want 1 (negative entry cached)", store.loads.Load())
	}
}

func TestResolveForTeam_DraftHidden(t *testing.T) {
	conn := publishedConnector("weather")
	conn.Status = models.ConnectorStatusDraft
	store := &countingStore{connector: conn}
	c := New(store, time.Minute)

	r, err := c.ResolveForTeam(context.Background(), "team-1", "weather")
	if err != nil {
		t.Fatalf("ResolveForTeam: %v", err)
	}
	if r != nil {
		t.Errorf("draft connector resolved: %+v", r)
	}
}

func TestInvalidateTeam_ReadYourWrites(t *testing.T) {
	store := &countingStore{connector: publishedConnector("weather")}
	c := New(store, time.Minute)

	if _, err := c.ResolveForTeam(context.Background(), "team-1", "weather"); err != nil {
		t.Fatal(err)
	}
	c.InvalidateTeam("team-1", "weather")
	if _, err := c.ResolveForTeam(context.Background(), "team-1", "weather"); err != nil {
		t.Fatal(err)
	}

	if store.loads.Load() != 2 {
		t.Errorf("store loads = %d, want 2 after invalidation", store.loads.Load())
	}
}

func TestScopesDoNotCollide(t *testing.T) {
	store := &countingStore{connector: publishedConnector("weather")}
	c := New(store, time.Minute)

	if _, err := c.ResolveForTeam(context.Background(), "id-1", "weather"); err != nil {
		t.Fatal(err)
	}
	// Same id string in the user scope must not hit the team entry.
	if _, err := c.ResolveForUser(context.Background(), "id-1", "weather"); err != nil {
		t.Fatal(err)
	}
	if store.loads.Load() != 2 {
		t.Errorf("store loads = %d, want 2 (distinct scopes)", store.loads.Load())
	}
}
