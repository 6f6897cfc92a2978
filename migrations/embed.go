// Package migrations embeds the LayerFlow schema into the binary.
//
// Files follow the YYYYMMDD_HHMMSS_description.{up,down}.sql naming that
// database.LoadMigrations expects, and live at the root of FS.
package migrations

import "embed"

// FS holds every migration file. Pass it to (*database.DB).Migrate.
//
//go:embed *.sql
var FS embed.FS
