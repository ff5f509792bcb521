package migrations

import "embed"

// FS embeds the Postgres schema migrations, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
