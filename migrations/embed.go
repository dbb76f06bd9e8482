// Package migrations embeds the gateway's SQL schema so the binary can
// migrate its database without the files on disk.
package migrations

import (
	"embed"

	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
