package repositories

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

// SchemaManager creates and drops per-plugin Postgres schemas. DDL cannot
// take bind parameters, so namespace names are validated against a strict
// pattern before being interpolated.
type SchemaManager struct {
	db *sqlx.DB
}

// NewSchemaManager creates a new SchemaManager.
func NewSchemaManager(db *sqlx.DB) *SchemaManager {
	return &SchemaManager{db: db}
}

var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

func validNamespace(namespace string) error {
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("invalid database namespace %q", namespace)
	}
	return nil
}

// EnsureNamespace creates the schema if it does not already exist.
func (m *SchemaManager) EnsureNamespace(ctx context.Context, namespace string) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, namespace))
	return err
}

// DropNamespace removes the schema and everything in it. Dropping a
// namespace that does not exist is a no-op.
func (m *SchemaManager) DropNamespace(ctx context.Context, namespace string) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, namespace))
	return err
}
