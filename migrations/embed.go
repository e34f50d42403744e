// Package migrations embeds the numbered SQL files applied by db.Migrator to
// every hospital schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
