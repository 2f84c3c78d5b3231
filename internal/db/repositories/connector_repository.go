package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// ConnectorRepository handles service connector and endpoint rows. The JSONB
// columns (allowed_hosts, auth_config, secret_refs, transform) are marshalled
// by hand so the models stay plain Go values.
type ConnectorRepository struct {
	db *sqlx.DB
}

// NewConnectorRepository creates a new ConnectorRepository.
func NewConnectorRepository(db *sqlx.DB) *ConnectorRepository {
	return &ConnectorRepository{db: db}
}

const connectorColumns = `id, slug, name, team_id, owner_user_id, upstream_base_url,
	allowed_hosts, auth_type, auth_config, secret_refs, health_check_path,
	status, version, created_at, updated_at`

func scanConnector(row interface {
	Scan(dest ...interface{}) error
}) (*models.ServiceConnector, error) {
	var (
		c            models.ServiceConnector
		allowedHosts []byte
		authConfig   []byte
		secretRefs   []byte
	)
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &c.TeamID, &c.OwnerUserID,
		&c.UpstreamBaseURL, &allowedHosts, &c.AuthType, &authConfig, &secretRefs,
		&c.HealthCheckPath, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(allowedHosts) > 0 {
		if err := json.Unmarshal(allowedHosts, &c.AllowedHosts); err != nil {
			return nil, fmt.Errorf("unmarshal allowed_hosts: %w", err)
		}
	}
	if len(authConfig) > 0 {
		if err := json.Unmarshal(authConfig, &c.AuthConfig); err != nil {
			return nil, fmt.Errorf("unmarshal auth_config: %w", err)
		}
	}
	if len(secretRefs) > 0 {
		if err := json.Unmarshal(secretRefs, &c.SecretRefs); err != nil {
			return nil, fmt.Errorf("unmarshal secret_refs: %w", err)
		}
	}
	return &c, nil
}

func marshalConnectorJSON(c *models.ServiceConnector) (allowedHosts, authConfig, secretRefs []byte, err error) {
	if c.AllowedHosts == nil {
		c.AllowedHosts = []string{}
	}
	allowedHosts, err = json.Marshal(c.AllowedHosts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal allowed_hosts: %w", err)
	}
	authConfig, err = json.Marshal(c.AuthConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal auth_config: %w", err)
	}
	if c.SecretRefs == nil {
		c.SecretRefs = []string{}
	}
	secretRefs, err = json.Marshal(c.SecretRefs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal secret_refs: %w", err)
	}
	return allowedHosts, authConfig, secretRefs, nil
}

// CreateWithEndpoints inserts a connector and its endpoints in one
// transaction. Either everything lands or nothing does.
func (r *ConnectorRepository) CreateWithEndpoints(ctx context.Context, c *models.ServiceConnector, endpoints []*models.ConnectorEndpoint) error {
	c.ID = uuid.New().String()
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Status == "" {
		c.Status = models.ConnectorStatusDraft
	}

	allowedHosts, authConfig, secretRefs, err := marshalConnectorJSON(c)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO service_connectors (`+connectorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.Slug, c.Name, c.TeamID, c.OwnerUserID, c.UpstreamBaseURL,
		allowedHosts, c.AuthType, authConfig, secretRefs, c.HealthCheckPath,
		c.Status, c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}

	for _, ep := range endpoints {
		if err := insertEndpointTx(ctx, tx, c.ID, ep); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertEndpointTx(ctx context.Context, tx *sqlx.Tx, connectorID string, ep *models.ConnectorEndpoint) error {
	ep.ID = uuid.New().String()
	ep.ConnectorID = connectorID
	ep.CreatedAt = time.Now()

	transform, err := json.Marshal(ep.Transform)
	if err != nil {
		return fmt.Errorf("marshal transform: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO connector_endpoints
		   (id, connector_id, method, path, upstream_path, transform,
		    cache_ttl_secs, timeout_ms, retries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ep.ID, ep.ConnectorID, ep.Method, ep.Path, ep.UpstreamPath, transform,
		ep.CacheTTLSecs, ep.TimeoutMs, ep.Retries, ep.CreatedAt)
	return err
}

// GetByID retrieves a connector by id without ownership filtering. Callers
// enforcing team scope use GetByIDForTeam instead.
func (r *ConnectorRepository) GetByID(ctx context.Context, id string) (*models.ServiceConnector, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectorColumns+` FROM service_connectors WHERE id = $1`, id)
	c, err := scanConnector(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByIDForTeam retrieves a connector only when it belongs to the given
// team. Connectors owned by other teams come back as absent, not forbidden.
func (r *ConnectorRepository) GetByIDForTeam(ctx context.Context, id, teamID string) (*models.ServiceConnector, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectorColumns+` FROM service_connectors WHERE id = $1 AND team_id = $2`,
		id, teamID)
	c, err := scanConnector(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetBySlugForTeam retrieves a team-owned connector by slug.
func (r *ConnectorRepository) GetBySlugForTeam(ctx context.Context, slug, teamID string) (*models.ServiceConnector, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectorColumns+` FROM service_connectors WHERE slug = $1 AND team_id = $2`,
		slug, teamID)
	c, err := scanConnector(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetBySlugForUser retrieves a personal connector by slug.
func (r *ConnectorRepository) GetBySlugForUser(ctx context.Context, slug, userID string) (*models.ServiceConnector, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectorColumns+` FROM service_connectors WHERE slug = $1 AND owner_user_id = $2`,
		slug, userID)
	c, err := scanConnector(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListForTeam returns all connectors owned by a team, newest first.
func (r *ConnectorRepository) ListForTeam(ctx context.Context, teamID string) ([]*models.ServiceConnector, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectorColumns+` FROM service_connectors
		 WHERE team_id = $1 ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	connectors := make([]*models.ServiceConnector, 0)
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, c)
	}
	return connectors, rows.Err()
}

// ListPublished returns every published connector across all owners. Used by
// the scheduled health check sweep.
func (r *ConnectorRepository) ListPublished(ctx context.Context) ([]*models.ServiceConnector, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectorColumns+` FROM service_connectors
		 WHERE status = $1 ORDER BY created_at`, models.ConnectorStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	connectors := make([]*models.ServiceConnector, 0)
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, c)
	}
	return connectors, rows.Err()
}

// ListPublishedForTeam returns one team's published connectors. Used when an
// admin session triggers the health check sweep for its own team.
func (r *ConnectorRepository) ListPublishedForTeam(ctx context.Context, teamID string) ([]*models.ServiceConnector, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectorColumns+` FROM service_connectors
		 WHERE status = $1 AND team_id = $2 ORDER BY created_at`,
		models.ConnectorStatusPublished, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	connectors := make([]*models.ServiceConnector, 0)
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, c)
	}
	return connectors, rows.Err()
}

// Update persists mutable connector fields and bumps the version counter.
// The row's current version must match expectedVersion or no row is updated.
func (r *ConnectorRepository) Update(ctx context.Context, c *models.ServiceConnector, expectedVersion int) (bool, error) {
	allowedHosts, authConfig, secretRefs, err := marshalConnectorJSON(c)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE service_connectors
		 SET name = $2, upstream_base_url = $3, allowed_hosts = $4, auth_type = $5,
		     auth_config = $6, secret_refs = $7, health_check_path = $8, status = $9,
		     version = version + 1, updated_at = $10
		 WHERE id = $1 AND version = $11`,
		c.ID, c.Name, c.UpstreamBaseURL, allowedHosts, c.AuthType,
		authConfig, secretRefs, c.HealthCheckPath, c.Status, time.Now(), expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a connector. Endpoints, health checks and keys cascade via
// the schema's foreign keys.
func (r *ConnectorRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM service_connectors WHERE id = $1`, id)
	return err
}

// ListEndpoints returns a connector's endpoints in definition order.
func (r *ConnectorRepository) ListEndpoints(ctx context.Context, connectorID string) ([]*models.ConnectorEndpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, connector_id, method, path, upstream_path, transform,
		        cache_ttl_secs, timeout_ms, retries, created_at
		 FROM connector_endpoints WHERE connector_id = $1 ORDER BY created_at`, connectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	endpoints := make([]*models.ConnectorEndpoint, 0)
	for rows.Next() {
		var (
			ep        models.ConnectorEndpoint
			transform []byte
		)
		err := rows.Scan(&ep.ID, &ep.ConnectorID, &ep.Method, &ep.Path, &ep.UpstreamPath,
			&transform, &ep.CacheTTLSecs, &ep.TimeoutMs, &ep.Retries, &ep.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(transform) > 0 {
			if err := json.Unmarshal(transform, &ep.Transform); err != nil {
				return nil, fmt.Errorf("unmarshal transform: %w", err)
			}
		}
		endpoints = append(endpoints, &ep)
	}
	return endpoints, rows.Err()
}

// ReplaceEndpoints swaps a connector's full endpoint set transactionally.
func (r *ConnectorRepository) ReplaceEndpoints(ctx context.Context, connectorID string, endpoints []*models.ConnectorEndpoint) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM connector_endpoints WHERE connector_id = $1`, connectorID); err != nil {
		return err
	}
	for _, ep := range endpoints {
		if err := insertEndpointTx(ctx, tx, connectorID, ep); err != nil {
			return err
		}
	}
	return tx.Commit()
}
