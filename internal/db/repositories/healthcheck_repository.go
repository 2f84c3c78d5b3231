package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// HealthCheckRepository handles the append-only gateway health check trail.
type HealthCheckRepository struct {
	db *sqlx.DB
}

// NewHealthCheckRepository creates a new HealthCheckRepository.
func NewHealthCheckRepository(db *sqlx.DB) *HealthCheckRepository {
	return &HealthCheckRepository{db: db}
}

// Create inserts one probe result.
func (r *HealthCheckRepository) Create(ctx context.Context, hc *models.GatewayHealthCheck) error {
	hc.ID = uuid.New().String()
	if hc.CheckedAt.IsZero() {
		hc.CheckedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_health_checks
		   (id, connector_id, status, latency_ms, status_code, error, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		hc.ID, hc.ConnectorID, hc.Status, hc.LatencyMs, hc.StatusCode, hc.Error, hc.CheckedAt)
	return err
}

// ListByConnector returns the most recent checks for a connector.
func (r *HealthCheckRepository) ListByConnector(ctx context.Context, connectorID string, limit int) ([]*models.GatewayHealthCheck, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	checks := make([]*models.GatewayHealthCheck, 0)
	err := r.db.SelectContext(ctx, &checks,
		`SELECT id, connector_id, status, latency_ms, status_code, error, checked_at
		 FROM gateway_health_checks WHERE connector_id = $1
		 ORDER BY checked_at DESC LIMIT $2`, connectorID, limit)
	if err != nil {
		return nil, err
	}
	return checks, nil
}

// LatestByConnector returns the newest check for a connector, if any.
func (r *HealthCheckRepository) LatestByConnector(ctx context.Context, connectorID string) (*models.GatewayHealthCheck, error) {
	var hc models.GatewayHealthCheck
	err := r.db.GetContext(ctx, &hc,
		`SELECT id, connector_id, status, latency_ms, status_code, error, checked_at
		 FROM gateway_health_checks WHERE connector_id = $1
		 ORDER BY checked_at DESC LIMIT 1`, connectorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hc, nil
}

// PruneOlderThan deletes checks past the retention window. Run by the
// scheduled sweep, not by request handlers.
func (r *HealthCheckRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM gateway_health_checks WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
