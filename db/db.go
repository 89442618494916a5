// Package db embeds the SQL migrations and seeds applied by cmd/migrate.
package db

import "embed"

// FS holds migrations/*.sql and seeds/*.sql.
//
//go:embed migrations/*.sql seeds/*.sql
var FS embed.FS

const (
	MigrationsDir = "migrations"
	SeedsDir      = "seeds"
)
