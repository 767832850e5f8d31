package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(50<<20), cfg.Ingest.MaxUploadSizeBytes)
	assert.Equal(t, 30*time.Second, cfg.Ingest.LockTimeout)
	assert.Equal(t, "index.html", cfg.Ingest.EntryPointFilename)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, "none", cfg.Mirror.Type)
	assert.Equal(t, "@every 15m", cfg.Maintenance.Schedule)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  root: /srv/sites
ingest:
  retain_versions: 2
  lock_timeout_ms: 1500
lock:
  backend: redis
  redis_url: redis://cache:6379/1
`), 0o644))

	t.Setenv("INGEST_RETAIN_VERSIONS", "7")
	t.Setenv("MIRROR_TYPE", "s3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/sites", cfg.Storage.Root)
	assert.Equal(t, 7, cfg.Ingest.RetainVersions)
	assert.Equal(t, 1500*time.Millisecond, cfg.Ingest.LockTimeout)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "redis://cache:6379/1", cfg.Lock.RedisURL)
	assert.Equal(t, "s3", cfg.Mirror.Type)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "zookeeper")
	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "unsupported lock backend")

	t.Setenv("LOCK_BACKEND", "memory")
	t.Setenv("INGEST_RETAIN_VERSIONS", "-1")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "retain_versions")
}

func TestPrepareDatabase_CreatesSQLiteDir(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "db.sqlite")}}

	dbCfg, err := cfg.prepareDatabase()
	require.NoError(t, err)
	assert.Equal(t, cfg.Database.Path, dbCfg.Path)
	assert.DirExists(t, filepath.Dir(cfg.Database.Path))
}
