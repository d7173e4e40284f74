// Package db embeds the schema migrations so binaries can migrate on boot
// without shipping SQL files alongside them.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
