package migrations

import "embed"

// FS holds the goose SQL migrations for the relay archive.
//
//go:embed *.sql
var FS embed.FS
