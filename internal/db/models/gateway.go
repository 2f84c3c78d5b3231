package models

import "time"

// Health check classifications recorded by the connectivity tester.
const (
	CheckStatusUp       = "up"
	CheckStatusDegraded = "degraded"
	CheckStatusDown     = "down"
)

// GatewayHealthCheck is one append-only probe result for a connector. Rows
// are inserted and read, never updated.
type GatewayHealthCheck struct {
	ID          string    `db:"id" json:"id"`
	ConnectorID string    `db:"connector_id" json:"connector_id"`
	Status      string    `db:"status" json:"status"`
	LatencyMs   int       `db:"latency_ms" json:"latency_ms"`
	StatusCode  *int      `db:"status_code" json:"status_code,omitempty"`
	Error       *string   `db:"error" json:"error,omitempty"`
	CheckedAt   time.Time `db:"checked_at" json:"checked_at"`
}

// GatewayPlan defines rate and quota limits referenced by gateway API keys.
// Deleting a plan while active keys reference it is forbidden; the guard is
// enforced in application code, not just the FK.
type GatewayPlan struct {
	ID                string    `db:"id" json:"id"`
	TeamID            string    `db:"team_id" json:"team_id"`
	Name              string    `db:"name" json:"name"`
	RequestsPerMinute int       `db:"requests_per_minute" json:"requests_per_minute"`
	Burst             int       `db:"burst" json:"burst"`
	QuotaPerDay       *int      `db:"quota_per_day" json:"quota_per_day,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// GatewayAPIKey grants access to one connector under one plan. Only the
// bcrypt hash is stored; the raw key is shown once at creation. The plaintext
// prefix allows an indexed lookup before the bcrypt comparison.
type GatewayAPIKey struct {
	ID          string     `db:"id" json:"id"`
	TeamID      string     `db:"team_id" json:"team_id"`
	ConnectorID string     `db:"connector_id" json:"connector_id"`
	PlanID      string     `db:"plan_id" json:"plan_id"`
	Name        string     `db:"name" json:"name"`
	KeyHash     string     `db:"key_hash" json:"-"`
	KeyPrefix   string     `db:"key_prefix" json:"key_prefix"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
