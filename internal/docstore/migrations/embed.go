// Package migrations embeds the goose migrations for the SQL document
// backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
