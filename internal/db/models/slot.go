package models

import "time"

// Deployment slot names. The set is small and fixed: a deployment targets one
// of these, never an arbitrary string.
const (
	SlotBlue  = "blue"
	SlotGreen = "green"
)

// Slot statuses.
const (
	SlotStatusActive   = "active"
	SlotStatusInactive = "inactive"
)

// Slot health statuses.
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusUnknown   = "unknown"
)

// PluginDeploymentSlot is one named slot (blue/green) of a plugin deployment.
// Rows are created when a deployment first targets a slot and are only ever
// deactivated, never deleted. Health fields are mutated exclusively by the
// slot health monitor and by deployment promotion/rollback.
type PluginDeploymentSlot struct {
	ID                  string     `db:"id" json:"id"`
	DeploymentID        string     `db:"deployment_id" json:"deployment_id"`
	Slot                string     `db:"slot" json:"slot"`
	Status              string     `db:"status" json:"status"`
	Version             string     `db:"version" json:"version"`
	BackendURL          *string    `db:"backend_url" json:"backend_url,omitempty"` // nil = frontend-only, trivially healthy
	ContainerID         *string    `db:"container_id" json:"container_id,omitempty"`
	Port                *int       `db:"port" json:"port,omitempty"`
	DBNamespace         *string    `db:"db_namespace" json:"db_namespace,omitempty"`
	HealthStatus        string     `db:"health_status" json:"health_status"`
	HealthCheckFailures int        `db:"health_check_failures" json:"health_check_failures"`
	LastHealthCheck     *time.Time `db:"last_health_check" json:"last_health_check,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}
