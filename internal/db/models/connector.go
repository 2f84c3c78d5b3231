package models

import "time"

// Connector statuses.
const (
	ConnectorStatusDraft     = "draft"
	ConnectorStatusPublished = "published"
	ConnectorStatusArchived  = "archived"
)

// Connector auth types applied when probing or proxying to the upstream.
const (
	AuthTypeNone   = "none"
	AuthTypeAPIKey = "api_key"
	AuthTypeBearer = "bearer"
	AuthTypeBasic  = "basic"
)

// ServiceConnector is a declarative definition of a managed third-party HTTP
// API. Ownership is exactly one team or one personal user, never both.
// Version increments on every update (optimistic concurrency for admin UIs).
type ServiceConnector struct {
	ID              string                 `db:"id" json:"id"`
	Slug            string                 `db:"slug" json:"slug"` // unique per ownership scope
	Name            string                 `db:"name" json:"name"`
	TeamID          *string                `db:"team_id" json:"team_id,omitempty"`
	OwnerUserID     *string                `db:"owner_user_id" json:"owner_user_id,omitempty"`
	UpstreamBaseURL string                 `db:"upstream_base_url" json:"upstream_base_url"`
	AllowedHosts    []string               `db:"-" json:"allowed_hosts"` // SSRF allow-list, JSONB column
	AuthType        string                 `db:"auth_type" json:"auth_type"`
	AuthConfig      map[string]interface{} `db:"-" json:"auth_config,omitempty"` // JSONB, secret values encrypted at rest
	SecretRefs      []string               `db:"-" json:"secret_refs,omitempty"` // JSONB
	HealthCheckPath string                 `db:"health_check_path" json:"health_check_path"`
	Status          string                 `db:"status" json:"status"`
	Version         int                    `db:"version" json:"version"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

// ConnectorEndpoint defines one proxied route belonging to a connector.
type ConnectorEndpoint struct {
	ID           string                 `db:"id" json:"id"`
	ConnectorID  string                 `db:"connector_id" json:"connector_id"`
	Method       string                 `db:"method" json:"method"`
	Path         string                 `db:"path" json:"path"`
	UpstreamPath string                 `db:"upstream_path" json:"upstream_path"`
	Transform    map[string]interface{} `db:"-" json:"transform,omitempty"` // JSONB
	CacheTTLSecs *int                   `db:"cache_ttl_secs" json:"cache_ttl_secs,omitempty"`
	TimeoutMs    *int                   `db:"timeout_ms" json:"timeout_ms,omitempty"`
	Retries      *int                   `db:"retries" json:"retries,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}

// ConnectorTemplate is read-only seed data used to stamp out new connectors.
// The Connector and Endpoints blobs hold the JSON shapes of a ServiceConnector
// and its ConnectorEndpoints minus identity/ownership fields, which are filled
// in at instantiation time.
type ConnectorTemplate struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Category    *string   `db:"category" json:"category,omitempty"`
	Connector   []byte    `db:"connector" json:"-"` // JSONB
	Endpoints   []byte    `db:"endpoints" json:"-"` // JSONB
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
