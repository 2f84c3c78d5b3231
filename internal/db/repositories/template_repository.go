package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// TemplateRepository reads the connector template catalog. Templates are seed
// data maintained out of band; this service never writes them.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// List returns the full template catalog ordered by name.
func (r *TemplateRepository) List(ctx context.Context) ([]*models.ConnectorTemplate, error) {
	templates := make([]*models.ConnectorTemplate, 0)
	err := r.db.SelectContext(ctx, &templates,
		`SELECT id, name, description, category, connector, endpoints, created_at
		 FROM connector_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// GetByID retrieves one template.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.ConnectorTemplate, error) {
	var t models.ConnectorTemplate
	err := r.db.GetContext(ctx, &t,
		`SELECT id, name, description, category, connector, endpoints, created_at
		 FROM connector_templates WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
