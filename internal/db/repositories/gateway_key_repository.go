package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// GatewayKeyRepository handles gateway API key rows. Only the bcrypt hash
// ever touches the database.
type GatewayKeyRepository struct {
	db *sqlx.DB
}

// NewGatewayKeyRepository creates a new GatewayKeyRepository.
func NewGatewayKeyRepository(db *sqlx.DB) *GatewayKeyRepository {
	return &GatewayKeyRepository{db: db}
}

// Create inserts a new key row.
func (r *GatewayKeyRepository) Create(ctx context.Context, k *models.GatewayAPIKey) error {
	k.ID = uuid.New().String()
	k.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_api_keys
		   (id, team_id, connector_id, plan_id, name, key_hash, key_prefix, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		k.ID, k.TeamID, k.ConnectorID, k.PlanID, k.Name, k.KeyHash, k.KeyPrefix, k.ExpiresAt, k.CreatedAt)
	return err
}

// GetByPrefix retrieves the candidate key for a presented prefix. The caller
// confirms with a bcrypt comparison; the prefix alone grants nothing.
func (r *GatewayKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*models.GatewayAPIKey, error) {
	var k models.GatewayAPIKey
	err := r.db.GetContext(ctx, &k,
		`SELECT id, team_id, connector_id, plan_id, name, key_hash, key_prefix,
		        expires_at, last_used_at, created_at
		 FROM gateway_api_keys WHERE key_prefix = $1`, prefix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetByIDForTeam retrieves a key scoped to its owning team.
func (r *GatewayKeyRepository) GetByIDForTeam(ctx context.Context, id, teamID string) (*models.GatewayAPIKey, error) {
	var k models.GatewayAPIKey
	err := r.db.GetContext(ctx, &k,
		`SELECT id, team_id, connector_id, plan_id, name, key_hash, key_prefix,
		        expires_at, last_used_at, created_at
		 FROM gateway_api_keys WHERE id = $1 AND team_id = $2`, id, teamID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListForTeam returns a team's keys, newest first.
func (r *GatewayKeyRepository) ListForTeam(ctx context.Context, teamID string) ([]*models.GatewayAPIKey, error) {
	keys := make([]*models.GatewayAPIKey, 0)
	err := r.db.SelectContext(ctx, &keys,
		`SELECT id, team_id, connector_id, plan_id, name, key_hash, key_prefix,
		        expires_at, last_used_at, created_at
		 FROM gateway_api_keys WHERE team_id = $1 ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Revoke deletes a key immediately. Revocation is permanent.
func (r *GatewayKeyRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM gateway_api_keys WHERE id = $1`, id)
	return err
}

// UpdateLastUsed records key usage. Called off the hot path; failures are
// logged, never surfaced to the client.
func (r *GatewayKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE gateway_api_keys SET last_used_at = $2 WHERE id = $1`, id, time.Now())
	return err
}
