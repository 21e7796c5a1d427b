package migrations

import "embed"

// FS contains embedded SQLite migrations for gateway session storage.
//
//go:embed *.sql
var FS embed.FS
