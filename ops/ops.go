// Package ops embeds the SQL migration and seed files so the migrate
// binary carries its own schema.
package ops

import "embed"

//go:embed migrations/sql migrations/seeds
var Migrations embed.FS
