package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/helixir/search-agent/migrations"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "search_agent_schema_migrations"

// embeddedSource names the migrations compiled into the binary in logs.
const embeddedSource = "embedded"

// MigrationStatus describes the schema version of the checkpoint database.
type MigrationStatus struct {
	// Version is the last applied migration. Zero when Applied is false.
	Version uint
	// Dirty is set when a migration failed half way and needs Force.
	Dirty bool
	// Applied is false on a database that has never been migrated.
	Applied bool
}

// Migrator applies the checkpoint schema.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // sql.DB wrapper around the pgx pool, must be closed
	source  string
	logger  zerolog.Logger
}

// NewMigrator creates a migrator over db. An empty migrationsPath uses the
// migrations compiled into the binary; otherwise the directory is read.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if db.pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}

	src, name, err := openSource(migrationsPath)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		_ = src.Close()
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("migrations", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		source:  name,
		logger:  logger.With().Str("migrations", name).Logger(),
	}, nil
}

// openSource returns the migration source for path and a name for logs.
func openSource(path string) (source.Driver, string, error) {
	if path == "" {
		src, err := iofs.New(migrations.Files, ".")
		if err != nil {
			return nil, "", fmt.Errorf("failed to open embedded migrations: %w", err)
		}
		return src, embeddedSource, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("invalid migrations path %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, "", fmt.Errorf("migrations path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, "", fmt.Errorf("migrations path %s is not a directory", abs)
	}

	src, err := (&file.File{}).Open("file://" + filepath.ToSlash(abs))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open migrations in %s: %w", abs, err)
	}
	return src, abs, nil
}

// Source names where migrations are read from.
func (m *Migrator) Source() string {
	return m.source
}

// Up runs all pending migrations.
func (m *Migrator) Up() error {
	return m.run("up", m.migrate.Up)
}

// Down rolls back all migrations.
func (m *Migrator) Down() error {
	return m.run("down", m.migrate.Down)
}

// Steps runs n migrations (positive = up, negative = down).
func (m *Migrator) Steps(n int) error {
	return m.run(fmt.Sprintf("steps %d", n), func() error {
		return m.migrate.Steps(n)
	})
}

// run applies one migration action. Having nothing to do is not an error;
// migrate reports a step past the last file as os.ErrNotExist.
func (m *Migrator) run(action string, fn func() error) error {
	m.logger.Info().Str("action", action).Msg("applying migrations")

	err := fn()
	switch {
	case err == nil:
		m.logger.Info().Str("action", action).Msg("migrations applied")
		return nil
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		m.logger.Info().Str("action", action).Msg("schema already up to date")
		return nil
	default:
		return fmt.Errorf("migrate %s: %w", action, err)
	}
}

// Status reports the applied schema version.
func (m *Migrator) Status() (MigrationStatus, error) {
	v, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return MigrationStatus{Version: v, Dirty: dirty, Applied: true}, nil
}

// Force sets the migration version without running migrations, clearing the
// dirty flag after a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Close releases the migration source and the sql.DB wrapper. The pgx pool
// itself stays open.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	var sqlErr error
	if m.sqlDB != nil {
		sqlErr = m.sqlDB.Close()
	}
	if err := errors.Join(sourceErr, dbErr, sqlErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}
