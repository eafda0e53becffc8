package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies the embedded schema (tenants, keys, liveness sessions,
// captures, cache, rate limits, webhooks and usage).
type Migrator struct {
	m      *migrate.Migrate
	source source.Driver
	// owned is closed by Close when the migrator opened the connection itself
	owned *sql.DB
}

// Status is the schema position of a database
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

func (s Status) Pending() bool { return s.Current < s.Latest }

// Open connects to dsn with a small dedicated pool and returns a migrator that
// owns the connection.
func Open(ctx context.Context, dsn string) (*Migrator, error) {
	pgCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	poolCfg := DefaultPoolConfig(dsn)
	poolCfg.MaxConns = 2
	db, err := OpenSQL(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	m, err := NewMigrator(db, pgCfg.Database)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.owned = db
	return m, nil
}

// NewMigrator wraps an existing connection; Close leaves db open
func NewMigrator(db *sql.DB, dbName string) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: dbName})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{m: m, source: src}, nil
}

// Up applies every pending migration; being up to date is not an error
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the last migration (dev only)
func (m *Migrator) Down() error {
	if err := m.m.Steps(-1); err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}
	return nil
}

// Version is 0 on a database that never ran a migration
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}

// Latest returns the highest version shipped in the embedded migrations
func (m *Migrator) Latest() (uint, error) {
	v, err := m.source.First()
	if err != nil {
		return 0, fmt.Errorf("read first migration: %w", err)
	}
	for {
		next, err := m.source.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read migration after %d: %w", v, err)
		}
		v = next
	}
}

func (m *Migrator) Status() (Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return Status{}, err
	}
	latest, err := m.Latest()
	if err != nil {
		return Status{}, err
	}
	return Status{Current: current, Latest: latest, Dirty: dirty}, nil
}

// Force records version as applied without running anything. Used to clear
// a dirty flag after fixing a failed migration by hand.
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if m.owned != nil {
		dbErr = errors.Join(dbErr, m.owned.Close())
	}
	if err := errors.Join(srcErr, dbErr); err != nil {
		return fmt.Errorf("close migrator: %w", err)
	}
	return nil
}

// MigrateUp brings dsn to the latest schema. Used by the API on boot when
// AUTO_MIGRATE is set and by the integration tests.
func MigrateUp(ctx context.Context, dsn string, logger *slog.Logger) error {
	m, err := Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	before, err := m.Status()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		return err
	}

	logger.Info("migrations applied", "from_version", before.Current, "to_version", before.Latest)
	return nil
}
