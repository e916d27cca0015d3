package migrations

import "embed"

// FS contains embedded SQLite migrations for the launch registry.
//
//go:embed *.sql
var FS embed.FS
