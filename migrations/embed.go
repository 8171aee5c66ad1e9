// Package migrations embeds the SQL schema migrations into the binary.
package migrations

import "embed"

// FS holds the migration files at its root; pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
