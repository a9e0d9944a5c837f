package db

import "embed"

// EmbedMigrations holds the audit metastore migration files so the binary
// can migrate without external assets.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
