// Package migrations holds the SQLite schema and applies numbered schema
// files for both SQL stores.
package migrations

import "embed"

// FS holds the SQLite schema files.
//
//go:embed *.sql
var FS embed.FS
