package models

import "time"

// Audit actions recorded for admin mutations. Kept as a closed set so
// dashboards can aggregate without free-text parsing.
const (
	AuditConnectorCreated  = "connector.created"
	AuditConnectorUpdated  = "connector.updated"
	AuditConnectorDeleted  = "connector.deleted"
	AuditConnectorTested   = "connector.tested"
	AuditTemplateApplied   = "template.applied"
	AuditKeyCreated        = "key.created"
	AuditKeyRevoked        = "key.revoked"
	AuditPlanCreated       = "plan.created"
	AuditPlanUpdated       = "plan.updated"
	AuditPlanDeleted       = "plan.deleted"
	AuditHealthCheckRun    = "health.check_run"
	AuditPluginProvisioned = "plugin.provisioned"
	AuditPluginRolledBack  = "plugin.rolled_back"
)

// AuditLog is one append-only compliance-trail entry. Writes are best-effort:
// a failed audit write must never fail the admin operation it describes.
type AuditLog struct {
	ID         string                 `db:"id" json:"id"`
	Action     string                 `db:"action" json:"action"`
	Resource   string                 `db:"resource" json:"resource"`
	ResourceID *string                `db:"resource_id" json:"resource_id,omitempty"`
	UserID     *string                `db:"user_id" json:"user_id,omitempty"`
	TeamID     *string                `db:"team_id" json:"team_id,omitempty"`
	IPAddress  *string                `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string                `db:"user_agent" json:"user_agent,omitempty"`
	Details    map[string]interface{} `db:"-" json:"details,omitempty"` // JSONB
	Status     string                 `db:"status" json:"status"`       // success | failure
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
}
