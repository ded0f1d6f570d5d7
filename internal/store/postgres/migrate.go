package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

var dbNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// Migrate applies every pending migration to db. An up-to-date schema is
// not an error.
func Migrate(db *sql.DB, dbName string, logger *zap.Logger) error {
	m, err := newMigrate(db, dbName)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no new migrations")
			return nil
		}
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			logger.Error("migration left a dirty schema", zap.Int("version", dirty.Version))
			return fmt.Errorf("migration failed: dirty database version %d", dirty.Version)
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	logger.Info("schema migrated", zap.Uint("version", version))
	return nil
}

// MigrateDown reverts every migration. Integration tests use it to leave a
// clean database behind.
func MigrateDown(db *sql.DB, dbName string) error {
	m, err := newMigrate(db, dbName)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("reverting migrations: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB, dbName string) (*migrate.Migrate, error) {
	if !dbNamePattern.MatchString(dbName) {
		return nil, fmt.Errorf("invalid database name %q", dbName)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		DatabaseName: dbName,
		SchemaName:   "public",
	})
	if err != nil {
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
