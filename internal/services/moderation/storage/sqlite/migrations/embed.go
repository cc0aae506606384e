package migrations

import "embed"

// FS contains embedded SQLite migrations for moderation rule storage.
//
//go:embed *.sql
var FS embed.FS
