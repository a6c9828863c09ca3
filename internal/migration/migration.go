package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// RunMigrations applies the embedded Operations-store schema (pledges,
// receipts, allocations, beneficiary_aggregates, subscriptions,
// installments, audit logs, mail, api keys, orgs, users, sessions) so the
// service is usable out of the box for local and self-hosted deployments.
func RunMigrations(db *sql.DB) error {
	return runMigrations(db, embeddedMigrations, migrationsDir)
}

// RunConfidentialMigrations applies the embedded schema for the
// Confidential store, which holds only the beneficiaries table (donor-facing
// PII kept out of the Operations store entirely).
func RunConfidentialMigrations(db *sql.DB) error {
	return runMigrations(db, embeddedConfidentialMigrations, confidentialMigrationsDir)
}

func runMigrations(db *sql.DB, migrationsFS fs.FS, dir string) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
