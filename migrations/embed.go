// Package migrations embeds the SQL migration files for use at runtime,
// so the core runs correctly regardless of the process's working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
