package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trust-ethos/ethos-connect/internal/assets"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func (app *BootstrapApp) SetupDatabase(databasePath string) (*sql.DB, error) {
	dir := filepath.Dir(databasePath)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", databasePath)

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	target, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})

	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite instance: %w", err)
	}

	if err := runMigrations("migrations/sqlite", "sqlite", target); err != nil {
		return nil, err
	}

	return db, nil
}

func (app *BootstrapApp) SetupPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	target, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})

	if err != nil {
		return nil, fmt.Errorf("failed to create postgres instance: %w", err)
	}

	if err := runMigrations("migrations/postgres", "postgres", target); err != nil {
		return nil, err
	}

	return db, nil
}

func runMigrations(dir string, name string, target database.Driver) error {
	migrations, err := iofs.New(assets.Migrations, dir)

	if err != nil {
		return fmt.Errorf("failed to create migrations: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", migrations, name, target)

	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}
