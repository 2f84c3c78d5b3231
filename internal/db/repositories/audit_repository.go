package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// AuditRepository handles audit log rows.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts one audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs
		   (id, action, resource, resource_id, user_id, team_id, ip_address,
		    user_agent, details, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.Action, entry.Resource, entry.ResourceID, entry.UserID,
		entry.TeamID, entry.IPAddress, entry.UserAgent, details, entry.Status, entry.CreatedAt)
	return err
}

// AuditFilter narrows List results. Zero values mean "no filter".
type AuditFilter struct {
	TeamID   string
	Action   string
	Resource string
	UserID   string
	Since    time.Time
	Limit    int
	Offset   int
}

// List returns audit entries matching the filter, newest first.
func (r *AuditRepository) List(ctx context.Context, f AuditFilter) ([]*models.AuditLog, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.TeamID != "" {
		add("team_id = $%d", f.TeamID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		add("resource = $%d", f.Resource)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	query := `SELECT id, action, resource, resource_id, user_id, team_id, ip_address,
	                 user_agent, details, status, created_at
	          FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AuditLog, 0)
	for rows.Next() {
		var (
			e       models.AuditLog
			details []byte
		)
		err := rows.Scan(&e.ID, &e.Action, &e.Resource, &e.ResourceID, &e.UserID,
			&e.TeamID, &e.IPAddress, &e.UserAgent, &details, &e.Status, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
