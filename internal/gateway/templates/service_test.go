package templates

import (
	"context"
	"errors"
	"testing"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

type fakeTemplateStore struct {
	templates []*models.ConnectorTemplate
	err       error
}

func (f *fakeTemplateStore) List(ctx context.Context) ([]*models.ConnectorTemplate, error) {
	return f.templates, f.err
}

func (f *fakeTemplateStore) GetByID(ctx context.Context, id string) (*models.ConnectorTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, t := range f.templates {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

type fakeConnectorStore struct {
	existingSlugs map[string]bool // "team:slug" or "user:slug"
	created       *models.ServiceConnector
	createdEps    []*models.ConnectorEndpoint
}

func (f *fakeConnectorStore) GetBySlugForTeam(ctx context.Context, slug, teamID string) (*models.ServiceConnector, error) {
	if f.existingSlugs["team:"+slug] {
		return &models.ServiceConnector{Slug: slug}, nil
	}
	return nil, nil
}

func (f *fakeConnectorStore) GetBySlugForUser(ctx context.Context, slug, userID string) (*models.ServiceConnector, error) {
	if f.existingSlugs["user:"+slug] {
		return &models.ServiceConnector{Slug: slug}, nil
	}
	return nil, nil
}

func (f *fakeConnectorStore) CreateWithEndpoints(ctx context.Context, c *models.ServiceConnector, endpoints []*models.ConnectorEndpoint) error {
	c.ID = "conn-new"
	f.created = c
	f.createdEps = endpoints
	return nil
}

func weatherTemplate() *models.ConnectorTemplate {
	return &models.ConnectorTemplate{
		ID:   "tmpl-1",
		Name: "Weather API",
		Connector: []byte(`{
			"name": "Weather API",
			"upstream_base_url": "https://api.weather.example.com/v1",
			"auth_type": "api_key",
			"health_check_path": "/ping"
		}`),
		Endpoints: []byte(`[
			{"method": "GET", "path": "/current", "upstream_path": "/v1/current"}
		]`),
	}
}

func strPtr(s string) *string { return &s }

func TestValidateSlug(t *testing.T) {
	valid := []string{"weather", "my-api", "a", "a1", "svc-2-prod"}
	for _, s := range valid {
		if err := ValidateSlug(s); err != nil {
			t.Errorf("ValidateSlug(%q) = %v, want nil", s, err)
		}
	}

	invalid := []string{"", "-leading", "trailing-", "UPPER", "under_score", "dots.here", "spa ce"}
	for _, s := range invalid {
		if err := ValidateSlug(s); !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("ValidateSlug(%q) = %v, want ErrInvalidSlug", s, err)
		}
	}
}

func TestList_DegradesToEmpty(t *testing.T) {
	s := NewService(&fakeTemplateStore{err: errors.New("db down")}, &fakeConnectorStore{})
	got := s.List(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("List = %v, want empty non-nil", got)
	}
}

func TestCreateFromTemplate_Success(t *testing.T) {
	store := &fakeConnectorStore{existingSlugs: map[string]bool{}}
	s := NewService(&fakeTemplateStore{templates: []*models.ConnectorTemplate{weatherTemplate()}}, store)

	conn, err := s.CreateFromTemplate(context.Background(), CreateRequest{
		TemplateID: "tmpl-1",
		Slug:       "weather",
		TeamID:     strPtr("team-1"),
	})
	if err != nil {
		t.Fatalf("CreateFromTemplate: %v", err)
	}
	if conn.Slug != "weather" || conn.TeamID == nil || *conn.TeamID != "team-1" {
		t.Errorf("conn = %+v", conn)
	}
	if conn.Status != models.ConnectorStatusDraft {
		t.Errorf("Status = %q, want draft", conn.Status)
	}
	if len(conn.AllowedHosts) != 1 || conn.AllowedHosts[0] != "api.weather.example.com" {
		t.Errorf("AllowedHosts = %v, want derived from upstream", conn.AllowedHosts)
	}
	if len(store.createdEps) != 1 || store.createdEps[0].Path != "/current" {
		t.Errorf("endpoints = %+v", store.createdEps)
	}
}

func TestCreateFromTemplate_InvalidSlug(t *testing.T) {
	s := NewService(&fakeTemplateStore{}, &fakeConnectorStore{})
	_, err := s.CreateFromTemplate(context.Background(), CreateRequest{
		TemplateID: "tmpl-1",
		Slug:       "Bad Slug",
		TeamID:     strPtr("team-1"),
	})
	if !errors.Is(err, ErrInvalidSlug) {
		t.Errorf("error = %v, want ErrInvalidSlug", err)
	}
}

func TestCreateFromTemplate_ScopeXOR(t *testing.T) {
	s := NewService(&fakeTemplateStore{}, &fakeConnectorStore{})

	_, err := s.CreateFromTemplate(context.Background(), CreateRequest{
		TemplateID: "tmpl-1", Slug: "weather",
	})
	if !errors.Is(err, ErrScopeAmbiguous) {
		t.Errorf("no owner: %v, want ErrScopeAmbiguous", err)
	}

	_, err = s.CreateFromTemplate(context.Background(), CreateRequest{
		TemplateID: "tmpl-1", Slug: "weather",
		TeamID: strPtr("team-1"), OwnerUserID: strPtr("user-1"),
	})
	if !errors.Is(err, ErrScopeAmbiguous) {
		t.Errorf("both owners: %v, want ErrScopeAmbiguous", err)
	}
}

func TestCreateFromTemplate_SlugTakenInScope(t *testing.T) {
	store := &fakeConnectorStore{existingSlugs: map[string]bool{"team:weather": true}}
	s := NewService(&fakeTemplateStore{templates: []*models.ConnectorTemplate{weatherTemplate()}}, store)

	_, err := s.CreateFromTemplate(context.Background(), CreateRequest{
		TemplateID: "tmpl-1", Slug: "weather", TeamID: strPtr("team-1"),
	})
	if !errors.Is(err, ErrSlugTaken) {
		t.Errorf("error = %v, want ErrSlugTaken", err)
	}

	// The same slug is free in the personal scope.
	conn, err := s.CreateFromTemplate(context.Background(), CreateRequest{
		TemplateID: "tmpl-1", Slug: "weather", OwnerUserID: strPtr("user-1"),
	})
	if err != nil {
		t.Fatalf("personal scope: %v", err)
	}
	if conn.OwnerUserID == nil || *conn.OwnerUserID != "user-1" {
		t.Errorf("conn = %+v", conn)
	}
}

func TestCreateFromTemplate_UnknownTemplate(t *testing.T) {
	store := &fakeConnectorStore{existingSlugs: map[string]bool{}}
	s := NewService(&fakeTemplateStore{}, store)

	_, err := s.CreateFromTemplate(context.Background(), CreateRequest{
		TemplateID: "ghost", Slug: "weather", TeamID: strPtr("team-1"),
	})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("error = %v, want ErrTemplateNotFound", err)
	}
}
