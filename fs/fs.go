// Package appfs embeds the files the binaries need at runtime.
package appfs

import "embed"

//go:embed migrations all:assets
var FS embed.FS

const (
	EmailTemplatesDir   = "assets/templates/email"
	CommonPasswordsPath = "assets/common-passwords.txt"
)

// MigrationsDir returns the migrations directory for a goose dialect.
func MigrationsDir(dialect string) string {
	if dialect == "sqlite3" {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}
