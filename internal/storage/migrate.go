package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/fund-tracker/internal/config"
)

// Migrator applies the registry schema (funds, wallets, tokens) to
// Postgres from the SQL files in the migrations directory.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens the migration source against the registry database
// from config, so the runner and the pool always target the same
// database.
func NewMigrator(cfg *config.PostgresConfig, migrationsPath string) (*Migrator, error) {
	m, err := migrate.New("file://"+migrationsPath, PostgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening migrations from %s: %w", migrationsPath, err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration. An already up-to-date schema is
// not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// RollbackLast undoes the most recent migration.
func (mg *Migrator) RollbackLast() error {
	if err := mg.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

// Version reports the schema version and whether a failed migration
// left it dirty. A fresh database reports version 0.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading migration version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the source and database handles.
func (mg *Migrator) Close() error {
	sourceErr, dbErr := mg.m.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return dbErr
}
