package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// PlanRepository handles gateway plan rows.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Create inserts a new plan.
func (r *PlanRepository) Create(ctx context.Context, p *models.GatewayPlan) error {
	p.ID = uuid.New().String()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_plans
		   (id, team_id, name, requests_per_minute, burst, quota_per_day, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.TeamID, p.Name, p.RequestsPerMinute, p.Burst, p.QuotaPerDay, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetByIDForTeam retrieves a plan scoped to its owning team.
func (r *PlanRepository) GetByIDForTeam(ctx context.Context, id, teamID string) (*models.GatewayPlan, error) {
	var p models.GatewayPlan
	err := r.db.GetContext(ctx, &p,
		`SELECT id, team_id, name, requests_per_minute, burst, quota_per_day, created_at, updated_at
		 FROM gateway_plans WHERE id = $1 AND team_id = $2`, id, teamID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListForTeam returns a team's plans ordered by name.
func (r *PlanRepository) ListForTeam(ctx context.Context, teamID string) ([]*models.GatewayPlan, error) {
	plans := make([]*models.GatewayPlan, 0)
	err := r.db.SelectContext(ctx, &plans,
		`SELECT id, team_id, name, requests_per_minute, burst, quota_per_day, created_at, updated_at
		 FROM gateway_plans WHERE team_id = $1 ORDER BY name`, teamID)
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// Update persists plan limit changes.
func (r *PlanRepository) Update(ctx context.Context, p *models.GatewayPlan) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE gateway_plans
		 SET name = $2, requests_per_minute = $3, burst = $4, quota_per_day = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.RequestsPerMinute, p.Burst, p.QuotaPerDay, time.Now())
	return err
}

// Delete removes a plan. Callers must check CountActiveKeys first; a plan
// referenced by live keys must not be deleted.
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM gateway_plans WHERE id = $1`, id)
	return err
}

// CountActiveKeys returns how many unexpired keys reference a plan.
func (r *PlanRepository) CountActiveKeys(ctx context.Context, planID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM gateway_api_keys
		 WHERE plan_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, planID)
	if err != nil {
		return 0, err
	}
	return count, nil
}
