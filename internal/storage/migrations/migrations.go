// Package migrations embeds the schema applied by storage.RunMigrations.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
