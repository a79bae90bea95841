// Package migrations embeds the goose migrations shared by the Postgres and
// SQLite backends. Column types stay portable across both.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
