// Package repositories implements the persistence layer: one repository per
// entity, context-first methods, hand-written SQL against the schema owned by
// the platform's web layer. Lookups that find nothing return (nil, nil) so
// callers can distinguish "absent" from "store failure".
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// PluginRepository handles plugin package and version rows.
type PluginRepository struct {
	db *sqlx.DB
}

// NewPluginRepository creates a new PluginRepository.
func NewPluginRepository(db *sqlx.DB) *PluginRepository {
	return &PluginRepository{db: db}
}

// GetPackageByName retrieves a package by its unique name.
func (r *PluginRepository) GetPackageByName(ctx context.Context, name string) (*models.PluginPackage, error) {
	var pkg models.PluginPackage
	err := r.db.GetContext(ctx, &pkg,
		`SELECT id, name, description, downloads, created_at, updated_at
		 FROM plugin_packages WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// GetPackageByID retrieves a package by id.
func (r *PluginRepository) GetPackageByID(ctx context.Context, id string) (*models.PluginPackage, error) {
	var pkg models.PluginPackage
	err := r.db.GetContext(ctx, &pkg,
		`SELECT id, name, description, downloads, created_at, updated_at
		 FROM plugin_packages WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ListVersions returns every version of a package, newest insert first.
// Semver ordering is applied by the version manager, not by SQL.
func (r *PluginRepository) ListVersions(ctx context.Context, packageID string) ([]*models.PluginVersion, error) {
	versions := make([]*models.PluginVersion, 0)
	err := r.db.SelectContext(ctx, &versions,
		`SELECT id, package_id, version, deprecated, deprecation_message, downloads, created_at
		 FROM plugin_versions WHERE package_id = $1 ORDER BY created_at DESC`, packageID)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// GetVersion retrieves one exact version of a package.
func (r *PluginRepository) GetVersion(ctx context.Context, packageID, version string) (*models.PluginVersion, error) {
	var v models.PluginVersion
	err := r.db.GetContext(ctx, &v,
		`SELECT id, package_id, version, deprecated, deprecation_message, downloads, created_at
		 FROM plugin_versions WHERE package_id = $1 AND version = $2`, packageID, version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVersion inserts a new version row. Conflict checks belong to the
// version manager and must run before this is called.
func (r *PluginRepository) CreateVersion(ctx context.Context, v *models.PluginVersion) error {
	v.ID = uuid.New().String()
	v.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plugin_versions (id, package_id, version, deprecated, deprecation_message, downloads, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.PackageID, v.Version, v.Deprecated, v.DeprecationMessage, v.Downloads, v.CreatedAt)
	return err
}

// DeprecateVersion marks a version deprecated with an operator-visible message.
func (r *PluginRepository) DeprecateVersion(ctx context.Context, versionID, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE plugin_versions SET deprecated = true, deprecation_message = $2 WHERE id = $1`,
		versionID, message)
	return err
}

// IncrementDownloads bumps the download counters for a package and version.
func (r *PluginRepository) IncrementDownloads(ctx context.Context, packageID, versionID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE plugin_packages SET downloads = downloads + 1 WHERE id = $1`, packageID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE plugin_versions SET downloads = downloads + 1 WHERE id = $1`, versionID)
	return err
}
