// Package migrations embeds the SQL schema for the Postgres mirror.
// Migrations are embedded so they work regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
// Contains all .sql files in this directory (e.g. 001_hook_events.sql).
//
//go:embed *.sql
var FS embed.FS
