package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/project"
)

func sqliteConfig(t *testing.T) Config {
	return Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "spahost.db")}
}

func TestConfig_DSN(t *testing.T) {
	dsn, err := Config{Host: "db", Port: 3306, User: "app", Password: "secret", Database: "spahost"}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "app:secret@tcp(db:3306)/spahost?charset=utf8mb4&parseTime=True&loc=UTC", dsn)

	dsn, err = Config{Driver: DriverSQLite, Path: "/var/lib/spahost.db"}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/spahost.db?_busy_timeout=5000&_foreign_keys=on", dsn)

	_, err = Config{Driver: DriverSQLite}.DSN()
	assert.Error(t, err)

	_, err = Config{Driver: "postgres"}.DSN()
	assert.Error(t, err)
}

func TestMigrations_SQLite(t *testing.T) {
	cfg := sqliteConfig(t)

	require.NoError(t, RunMigrations(cfg, ""))
	// Applying again is a no-op.
	require.NoError(t, RunMigrations(cfg, ""))

	version, dirty, err := MigrationVersion(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	db, err := Connect(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.True(t, db.Migrator().HasTable("projects"))
	assert.True(t, db.Migrator().HasTable("project_history"))

	// The migrated schema serves the project store.
	ctx := context.Background()
	store := project.NewSQLStore(db, logger.NewTestLogger())
	slot, created, err := store.CreateOrGetSlot(ctx, "demo", "Demo")
	require.NoError(t, err)
	assert.True(t, created)
	for _, v := range []string{"v1", "v2"} {
		p, err := store.Promote(ctx, "demo", slot.CurrentVersion, project.PromoteParams{
			Version:     v,
			StoragePath: "/srv/sites/demo/" + v,
			EntryPoint:  "index.html",
			SizeBytes:   10,
			FileCount:   1,
		})
		require.NoError(t, err)
		slot = p
	}
	history, err := store.ListHistory(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "v1", history[0].Version)
}

func TestRollbackMigration_SQLite(t *testing.T) {
	cfg := sqliteConfig(t)
	require.NoError(t, RunMigrations(cfg, ""))

	require.NoError(t, RollbackMigration(cfg, ""))
	version, _, err := MigrationVersion(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	db, err := Connect(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.True(t, db.Migrator().HasTable("projects"))
	assert.False(t, db.Migrator().HasTable("project_history"))
}

func TestMigrations_FromDirectory(t *testing.T) {
	cfg := sqliteConfig(t)
	require.NoError(t, RunMigrations(cfg, filepath.Join("migrations", "sqlite")))

	version, _, err := MigrationVersion(cfg, filepath.Join("migrations", "sqlite"))
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(Config{Driver: "oracle"})
	assert.Error(t, err)
}
