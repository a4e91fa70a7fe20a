// Package migrations embeds the SQL migrations for the routing cache.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
