package pg

import "embed"

// Migrations holds the schema under sql/ and reference data under seeds/.
//
//go:embed migrations/sql/*.sql migrations/seeds/*.sql
var Migrations embed.FS

const (
	MigrationsDir = "migrations/sql"
	SeedsDir      = "migrations/seeds"
)
