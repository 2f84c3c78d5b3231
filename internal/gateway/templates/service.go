// Package templates stamps out connectors from the read-only template
// catalog. A template carries the connector shape and endpoint set minus
// identity and ownership, which the caller supplies at instantiation.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
)

// slugPattern is the allowed shape of a connector slug: lowercase
// alphanumerics and interior hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

var (
	// ErrInvalidSlug is returned for slugs that fail the pattern.
	ErrInvalidSlug = errors.New("templates: invalid slug")
	// ErrSlugTaken is returned when the slug exists in the ownership scope.
	ErrSlugTaken = errors.New("templates: slug already in use")
	// ErrScopeAmbiguous is returned unless exactly one of team or user owns
	// the new connector.
	ErrScopeAmbiguous = errors.New("templates: exactly one of team or user must own the connector")
	// ErrTemplateNotFound is returned for unknown template ids.
	ErrTemplateNotFound = errors.New("templates: template not found")
)

// ValidateSlug checks a slug against the allowed pattern.
func ValidateSlug(slug string) error {
	if len(slug) == 0 || len(slug) > 63 || !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return nil
}

// TemplateStore reads the template catalog.
type TemplateStore interface {
	List(ctx context.Context) ([]*models.ConnectorTemplate, error)
	GetByID(ctx context.Context, id string) (*models.ConnectorTemplate, error)
}

// ConnectorStore persists instantiated connectors.
type ConnectorStore interface {
	GetBySlugForTeam(ctx context.Context, slug, teamID string) (*models.ServiceConnector, error)
	GetBySlugForUser(ctx context.Context, slug, userID string) (*models.ServiceConnector, error)
	CreateWithEndpoints(ctx context.Context, c *models.ServiceConnector, endpoints []*models.ConnectorEndpoint) error
}

var (
	_ TemplateStore  = (*repositories.TemplateRepository)(nil)
	_ ConnectorStore = (*repositories.ConnectorRepository)(nil)
)

// Service instantiates connectors from templates.
type Service struct {
	templates  TemplateStore
	connectors ConnectorStore
}

// NewService creates a template service.
func NewService(templates TemplateStore, connectors ConnectorStore) *Service {
	return &Service{templates: templates, connectors: connectors}
}

// List returns the catalog. A store failure degrades to an empty catalog:
// template browsing is never the reason an admin page errors out.
func (s *Service) List(ctx context.Context) []*models.ConnectorTemplate {
	templates, err := s.templates.List(ctx)
	if err != nil {
		slog.Error("list connector templates", "error", err)
		return []*models.ConnectorTemplate{}
	}
	return templates
}

// CreateRequest instantiates one template.
type CreateRequest struct {
	TemplateID  string  `json:"template_id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name,omitempty"` // defaults to the template name
	TeamID      *string `json:"team_id,omitempty"`
	OwnerUserID *string `json:"owner_user_id,omitempty"`
}

// CreateFromTemplate validates the request, fills in identity and ownership
// and creates the connector with its endpoints in one transaction.
func (s *Service) CreateFromTemplate(ctx context.Context, req CreateRequest) (*models.ServiceConnector, error) {
	if err := ValidateSlug(req.Slug); err != nil {
		return nil, err
	}
	if (req.TeamID == nil) == (req.OwnerUserID == nil) {
		return nil, ErrScopeAmbiguous
	}

	// Slug uniqueness is per ownership scope, not global.
	var existing *models.ServiceConnector
	var err error
	if req.TeamID != nil {
		existing, err = s.connectors.GetBySlugForTeam(ctx, req.Slug, *req.TeamID)
	} else {
		existing, err = s.connectors.GetBySlugForUser(ctx, req.Slug, *req.OwnerUserID)
	}
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrSlugTaken, req.Slug)
	}

	tmpl, err := s.templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, ErrTemplateNotFound
	}

	var connector models.ServiceConnector
	if err := json.Unmarshal(tmpl.Connector, &connector); err != nil {
		return nil, fmt.Errorf("template connector blob: %w", err)
	}
	var endpoints []*models.ConnectorEndpoint
	if len(tmpl.Endpoints) > 0 {
		if err := json.Unmarshal(tmpl.Endpoints, &endpoints); err != nil {
			return nil, fmt.Errorf("template endpoints blob: %w", err)
		}
	}

	connector.Slug = req.Slug
	connector.TeamID = req.TeamID
	connector.OwnerUserID = req.OwnerUserID
	connector.Status = models.ConnectorStatusDraft
	if req.Name != "" {
		connector.Name = req.Name
	} else if connector.Name == "" {
		connector.Name = tmpl.Name
	}

	if len(connector.AllowedHosts) == 0 {
		host, err := upstreamHost(connector.UpstreamBaseURL)
		if err != nil {
			return nil, err
		}
		connector.AllowedHosts = []string{host}
	}

	if err := s.connectors.CreateWithEndpoints(ctx, &connector, endpoints); err != nil {
		return nil, err
	}
	return &connector, nil
}

func upstreamHost(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("template has invalid upstream base url %q", baseURL)
	}
	return u.Hostname(), nil
}
