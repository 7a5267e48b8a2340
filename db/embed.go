// Package db embeds the SQL migrations shipped with the binary.
package db

import (
	"embed"
	"io/fs"
)

// MigrationsFS contains all SQL migration files embedded at compile time.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// Migrations returns the migration files rooted at the directory level the
// migrate source driver expects.
func Migrations() (fs.FS, error) {
	return fs.Sub(MigrationsFS, "migrations")
}
