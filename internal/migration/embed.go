package migration

import "embed"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

//go:embed migrations_confidential/*.sql
var embeddedConfidentialMigrations embed.FS

const confidentialMigrationsDir = "migrations_confidential"
