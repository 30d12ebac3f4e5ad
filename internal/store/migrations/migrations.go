// Package migrations embeds the forward-only SQL migrations for the state
// store database and applies them with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// MigrateUp runs all pending migrations to bring the database to the latest version.
func MigrateUp(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		sourceDriver.Close()
		return fmt.Errorf("wrapping sqlite3 driver for migration: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return fmt.Errorf("constructing migrate instance: %w", err)
	}
	// m.Close() would close db along with it, and the caller owns db's
	// lifetime, so the source driver is left open.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// CheckDBMigrationStatus verifies that db's schema version matches the
// highest version embedded in this binary, so a state directory left over
// from an older or newer pdsync build can be detected. store.Open does not
// call it; it runs MigrateUp.
func CheckDBMigrationStatus(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}
	defer sourceDriver.Close()

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("wrapping sqlite3 driver for migration: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("constructing migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("database has no schema version, needs migration")
		}
		return fmt.Errorf("reading database schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d: a previous migration did not complete", version)
	}

	latest, err := latestVersion(sourceDriver)
	if err != nil {
		return fmt.Errorf("determining latest embedded migration version: %w", err)
	}

	switch {
	case version < latest:
		return fmt.Errorf("database is at version %d but binary expects %d (%d migrations behind)", version, latest, latest-version)
	case version > latest:
		return fmt.Errorf("database is at version %d but binary only knows version %d (binary is older than the state store)", version, latest)
	}
	return nil
}

// latestVersion walks src forward from its first migration to find the
// highest version number embedded in the binary.
func latestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			return version, nil
		}
		version = next
	}
}
