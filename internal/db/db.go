// Package db manages the PostgreSQL connection pool for the runtime.
//
// The relational schema (plugin packages, deployment slots, connectors, plans,
// keys, audit trail) is owned and migrated by the platform's web layer; this
// service treats the store as already provisioned and only opens a pool
// against it. There is deliberately no migration tooling here.
package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect establishes a pooled connection to PostgreSQL and verifies it with
// a ping before returning.
func Connect(dsn string, maxConnections, minIdleConnections int) (*sqlx.DB, error) {
	database, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(maxConnections)
	database.SetMaxIdleConns(minIdleConnections)

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return database, nil
}
