// Package models defines the persisted entities the runtime reads and writes.
// The schema is owned by the platform's web layer; these structs mirror its
// tables field-for-field rather than being generated from it.
package models

import "time"

// PluginPackage is one published plugin identity in the marketplace registry.
type PluginPackage struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"` // unique across the registry
	Description *string   `db:"description" json:"description,omitempty"`
	Downloads   int64     `db:"downloads" json:"downloads"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PluginVersion is one semver-valid version of a package. Versions within a
// package are totally ordered by semver; a non-prerelease publish must be
// strictly greater than the latest non-deprecated stable version.
type PluginVersion struct {
	ID                 string    `db:"id" json:"id"`
	PackageID          string    `db:"package_id" json:"package_id"`
	Version            string    `db:"version" json:"version"`
	Deprecated         bool      `db:"deprecated" json:"deprecated"`
	DeprecationMessage *string   `db:"deprecation_message" json:"deprecation_message,omitempty"`
	Downloads          int64     `db:"downloads" json:"downloads"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// PluginManifest is the declarative shape a plugin publishes alongside a
// version. It drives provisioning: a backend component gets a port and
// (optionally) a container, a database component gets a namespaced schema.
type PluginManifest struct {
	Name       string          `json:"name"`
	Version    string          `json:"version"`
	Components ComponentSpec   `json:"components"`
	Hooks      map[string]Hook `json:"hooks,omitempty"` // keyed by lifecycle action
}

// ComponentSpec declares which infrastructure pieces a plugin needs.
type ComponentSpec struct {
	Frontend bool          `json:"frontend"`
	Backend  *BackendSpec  `json:"backend,omitempty"`
	Database *DatabaseSpec `json:"database,omitempty"`
}

// BackendSpec describes the plugin's backend process.
type BackendSpec struct {
	HealthPath string `json:"healthPath,omitempty"` // defaults to /health
	Image      string `json:"image,omitempty"`
}

// DatabaseSpec declares that the plugin needs a database namespace.
type DatabaseSpec struct {
	Engine string `json:"engine,omitempty"` // informational; postgres assumed
}

// Hook is one lifecycle script declared in a manifest. Script is a single
// command line executed without a shell; chained-command metacharacters are
// rejected before execution.
type Hook struct {
	Script         string            `json:"script"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

// Lifecycle actions a manifest may declare hooks for.
const (
	HookPostInstall  = "postInstall"
	HookPreUpdate    = "preUpdate"
	HookPostUpdate   = "postUpdate"
	HookPreUninstall = "preUninstall"
)
