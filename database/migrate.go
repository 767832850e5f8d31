package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFS embed.FS

// RunMigrations applies all pending migrations. An empty path uses the
// migrations compiled into the binary.
func RunMigrations(cfg Config, path string) error {
	return withMigrate(cfg, path, func(m *migrate.Migrate) error {
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		if dirty {
			return fmt.Errorf("database is dirty at migration version %d", version)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	})
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(cfg Config, path string) error {
	return withMigrate(cfg, path, func(m *migrate.Migrate) error {
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		return nil
	})
}

// MigrationVersion reports the applied schema version. Zero means no
// migration has been applied.
func MigrationVersion(cfg Config, path string) (version uint, dirty bool, err error) {
	err = withMigrate(cfg, path, func(m *migrate.Migrate) error {
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

// withMigrate opens a dedicated connection for fn. The migrate drivers close
// the connection they are given, so the application pool is never shared.
func withMigrate(cfg Config, path string, fn func(*migrate.Migrate) error) error {
	dsn, err := cfg.DSN()
	if err != nil {
		return err
	}

	var (
		sqlDB    *sql.DB
		instance migratedb.Driver
		name     = cfg.driver()
	)
	switch name {
	case DriverSQLite:
		if sqlDB, err = sql.Open("sqlite3", dsn); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		instance, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	default:
		if sqlDB, err = sql.Open("mysql", dsn+"&multiStatements=true"); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		instance, err = migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
	}
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if path == "" {
		src, err := iofs.New(migrationFS, "migrations/"+name)
		if err != nil {
			instance.Close()
			return fmt.Errorf("failed to load embedded migrations: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, name, instance)
		if err != nil {
			instance.Close()
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
	} else {
		m, err = migrate.NewWithDatabaseInstance("file://"+path, name, instance)
		if err != nil {
			instance.Close()
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
	}
	defer m.Close()

	return fn(m)
}
