package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/hairizuan-noorazman/spahost/archive"
	"github.com/hairizuan-noorazman/spahost/database"
	"github.com/hairizuan-noorazman/spahost/extract"
	"github.com/hairizuan-noorazman/spahost/ingest"
	"github.com/hairizuan-noorazman/spahost/lock"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/storage"
)

// app holds the components shared by the commands.
type app struct {
	cfg         *Config
	log         logger.Logger
	db          *gorm.DB
	tree        *storage.Tree
	store       *project.SQLStore
	coordinator *ingest.Coordinator
	metrics     *metrics.Prom
	closers     []func() error
}

func (c *Config) databaseConfig() database.Config {
	return database.Config{
		Driver:       c.Database.Driver,
		Host:         c.Database.Host,
		Port:         c.Database.Port,
		User:         c.Database.User,
		Password:     c.Database.Password,
		Database:     c.Database.Database,
		Path:         c.Database.Path,
		MaxOpenConns: c.Database.MaxOpenConns,
		MaxIdleConns: c.Database.MaxIdleConns,
	}
}

// prepareDatabase returns the database configuration, creating the parent
// directory of a sqlite file if needed.
func (c *Config) prepareDatabase() (database.Config, error) {
	cfg := c.databaseConfig()
	if cfg.Driver == database.DriverSQLite && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return cfg, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return cfg, nil
}

// newApp connects to the metadata store and assembles the upload pipeline.
func newApp(ctx context.Context, cfg *Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	dbCfg, err := cfg.prepareDatabase()
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(dbCfg, ""); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	db, err := database.Connect(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, sqlDB.Close)

	log.Info(ctx, "database connected", map[string]interface{}{
		"driver":   dbCfg.Driver,
		"database": cfg.Database.Database,
		"path":     cfg.Database.Path,
	})

	a.tree, err = storage.NewTree(cfg.Storage.Root)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open storage root: %w", err)
	}

	locker, err := a.newLocker()
	if err != nil {
		a.Close()
		return nil, err
	}

	mirror, err := storage.NewBlobStorage(cfg.Mirror.Type, map[string]interface{}{
		"base_dir": cfg.Mirror.BaseDir,
		"bucket":   cfg.Mirror.S3Bucket,
		"region":   cfg.Mirror.S3Region,
		"prefix":   cfg.Mirror.Prefix,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize archive mirror: %w", err)
	}

	a.metrics = metrics.NewProm(cfg.Metrics.Namespace)
	a.store = project.NewSQLStore(db, log)
	a.coordinator = ingest.NewCoordinator(ingest.Deps{
		Validator: archive.NewValidator(archive.Options{
			MaxSizeBytes:         cfg.Ingest.MaxUploadSizeBytes,
			MaxUncompressedRatio: cfg.Ingest.MaxUncompressedRatio,
			EntryPoint:           cfg.Ingest.EntryPointFilename,
		}),
		Extractor: extract.NewExtractor(a.tree, cfg.Ingest.MaxUploadSizeBytes, log),
		Tree:      a.tree,
		Store:     a.store,
		Locker:    locker,
		Mirror:    mirror,
		Metrics:   a.metrics,
		Logger:    log,
	}, ingest.Config{
		RetainVersions:    cfg.Ingest.RetainVersions,
		LockTimeout:       cfg.Ingest.LockTimeout,
		DeleteGracePeriod: cfg.Ingest.DeleteGracePeriod,
		StagingMaxAge:     cfg.Ingest.StagingMaxAge,
	})

	log.Info(ctx, "upload pipeline initialized", map[string]interface{}{
		"storage_root":    a.tree.Root(),
		"lock_backend":    cfg.Lock.Backend,
		"mirror":          cfg.Mirror.Type,
		"retain_versions": cfg.Ingest.RetainVersions,
	})
	return a, nil
}

func (a *app) newLocker() (lock.Locker, error) {
	if a.cfg.Lock.Backend != "redis" {
		return lock.NewLocalLocker(), nil
	}
	locker, err := lock.NewRedisLocker(a.cfg.Lock.RedisURL, a.cfg.Lock.TTL, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis lock: %w", err)
	}
	a.closers = append(a.closers, locker.Close)
	return locker, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn(context.Background(), "failed to close resource", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	a.closers = nil
}
