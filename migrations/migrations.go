// Package migrations embeds the SQL schema of the Postgres catalog provider.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
