// Package migrations embeds the SQL schema migrations into the binary.
//
// Import it for its side effect to register the files with the
// database package:
//
//	import _ "github.com/nerrad567/farmra-core/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/farmra-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
