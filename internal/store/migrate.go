package store

import (
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationFS embeds the schema shared by every SQL backend.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending up migrations to db. It reports the schema
// version after the run.
func Migrate(db *sql.DB, d dialect) (uint, error) {
	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("migrate source: %w", err)
	}

	var dbDriver database.Driver
	switch d.name {
	case postgresDialect.name:
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case sqliteDialect.name:
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return 0, fmt.Errorf("migrate: unsupported dialect %q", d.name)
	}
	if err != nil {
		return 0, fmt.Errorf("migrate driver: %w", err)
	}

	// m.Close would close db, which the store keeps using.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, d.name, dbDriver)
	if err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migrate version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migrate: schema version %d is dirty", version)
	}
	return version, nil
}
