// Package migrations embeds the SQL migration files applied by goose.
//
// Files are named NNNNN_description.sql and run in order on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
