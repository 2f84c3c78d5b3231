package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// SlotRepository handles plugin deployment slot rows. Slots are created when
// a deployment targets them and only ever deactivated afterwards.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository creates a new SlotRepository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// GetSlot retrieves one (deployment, slot) row.
func (r *SlotRepository) GetSlot(ctx context.Context, deploymentID, slot string) (*models.PluginDeploymentSlot, error) {
	var s models.PluginDeploymentSlot
	err := r.db.GetContext(ctx, &s,
		`SELECT id, deployment_id, slot, status, version, backend_url, container_id, port,
		        db_namespace, health_status, health_check_failures, last_health_check, created_at, updated_at
		 FROM plugin_deployment_slots WHERE deployment_id = $1 AND slot = $2`,
		deploymentID, slot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActiveSlots returns all slots currently marked active.
func (r *SlotRepository) ListActiveSlots(ctx context.Context) ([]*models.PluginDeploymentSlot, error) {
	slots := make([]*models.PluginDeploymentSlot, 0)
	err := r.db.SelectContext(ctx, &slots,
		`SELECT id, deployment_id, slot, status, version, backend_url, container_id, port,
		        db_namespace, health_status, health_check_failures, last_health_check, created_at, updated_at
		 FROM plugin_deployment_slots WHERE status = $1 ORDER BY created_at`,
		models.SlotStatusActive)
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// CreateSlot inserts a new slot row in unknown health.
func (r *SlotRepository) CreateSlot(ctx context.Context, s *models.PluginDeploymentSlot) error {
	s.ID = uuid.New().String()
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.HealthStatus == "" {
		s.HealthStatus = models.HealthStatusUnknown
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plugin_deployment_slots
		   (id, deployment_id, slot, status, version, backend_url, container_id, port,
		    db_namespace, health_status, health_check_failures, last_health_check, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.DeploymentID, s.Slot, s.Status, s.Version, s.BackendURL, s.ContainerID, s.Port,
		s.DBNamespace, s.HealthStatus, s.HealthCheckFailures, s.LastHealthCheck, s.CreatedAt, s.UpdatedAt)
	return err
}

// ReplaceDeployment points an existing slot row at a freshly deployed
// backend: new version, URL, container and port, health reset to healthy.
func (r *SlotRepository) ReplaceDeployment(ctx context.Context, s *models.PluginDeploymentSlot) error {
	s.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE plugin_deployment_slots
		 SET status = $2, version = $3, backend_url = $4, container_id = $5, port = $6,
		     db_namespace = $7, health_status = $8, health_check_failures = 0, updated_at = $9
		 WHERE id = $1`,
		s.ID, s.Status, s.Version, s.BackendURL, s.ContainerID, s.Port,
		s.DBNamespace, s.HealthStatus, s.UpdatedAt)
	return err
}

// UpdateHealth persists the outcome of one health-monitor evaluation.
func (r *SlotRepository) UpdateHealth(ctx context.Context, slotID, healthStatus string, failures int, checkedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE plugin_deployment_slots
		 SET health_status = $2, health_check_failures = $3, last_health_check = $4, updated_at = $5
		 WHERE id = $1`,
		slotID, healthStatus, failures, checkedAt, time.Now())
	return err
}

// SetStatus activates or deactivates a slot (deployment promotion/rollback).
func (r *SlotRepository) SetStatus(ctx context.Context, slotID, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE plugin_deployment_slots SET status = $2, updated_at = $3 WHERE id = $1`,
		slotID, status, time.Now())
	return err
}
