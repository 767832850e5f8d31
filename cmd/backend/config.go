package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Storage     StorageConfig
	Ingest      IngestConfig
	Lock        LockConfig
	Mirror      MirrorConfig
	Maintenance MaintenanceConfig
	Log         LogConfig
	Metrics     MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver       string // "mysql" or "sqlite"
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	Path         string // For sqlite: database file
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// StorageConfig holds the location of served project files.
type StorageConfig struct {
	Root string
}

// IngestConfig holds upload pipeline limits.
type IngestConfig struct {
	MaxUploadSizeBytes   int64
	MaxUncompressedRatio float64
	RetainVersions       int
	LockTimeout          time.Duration
	EntryPointFilename   string
	DeleteGracePeriod    time.Duration
	StagingMaxAge        time.Duration
}

// LockConfig selects the per-slug lock backend.
type LockConfig struct {
	Backend  string // "memory" or "redis"
	RedisURL string
	TTL      time.Duration
}

// MirrorConfig holds archive mirror configuration.
type MirrorConfig struct {
	Type     string // "none", "local" or "s3"
	BaseDir  string // For local: mirror directory
	S3Bucket string // For S3: bucket name
	S3Region string // For S3: AWS region
	Prefix   string
}

// MaintenanceConfig holds the recovery schedule.
type MaintenanceConfig struct {
	Schedule string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Namespace string
}

// LoadConfig loads configuration from a .env file, a config file and
// environment variables, in increasing order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config

	config.Server.Host = v.GetString("server.host")
	config.Server.Port = v.GetInt("server.port")
	config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	config.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	config.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")

	config.Database.Driver = v.GetString("database.driver")
	config.Database.Host = v.GetString("database.host")
	config.Database.Port = v.GetInt("database.port")
	config.Database.User = v.GetString("database.user")
	config.Database.Password = v.GetString("database.password")
	config.Database.Database = v.GetString("database.database")
	config.Database.Path = v.GetString("database.path")
	config.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	config.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")
	config.Database.AutoMigrate = v.GetBool("database.auto_migrate")

	config.Storage.Root = v.GetString("storage.root")

	config.Ingest.MaxUploadSizeBytes = v.GetInt64("ingest.max_upload_size_bytes")
	config.Ingest.MaxUncompressedRatio = v.GetFloat64("ingest.max_uncompressed_ratio")
	config.Ingest.RetainVersions = v.GetInt("ingest.retain_versions")
	config.Ingest.LockTimeout = time.Duration(v.GetInt64("ingest.lock_timeout_ms")) * time.Millisecond
	config.Ingest.EntryPointFilename = v.GetString("ingest.entry_point_filename")
	config.Ingest.DeleteGracePeriod = v.GetDuration("ingest.delete_grace_period")
	config.Ingest.StagingMaxAge = v.GetDuration("ingest.staging_max_age")

	config.Lock.Backend = v.GetString("lock.backend")
	config.Lock.RedisURL = v.GetString("lock.redis_url")
	config.Lock.TTL = v.GetDuration("lock.ttl")

	config.Mirror.Type = v.GetString("mirror.type")
	config.Mirror.BaseDir = v.GetString("mirror.base_dir")
	config.Mirror.S3Bucket = v.GetString("mirror.s3_bucket")
	config.Mirror.S3Region = v.GetString("mirror.s3_region")
	config.Mirror.Prefix = v.GetString("mirror.prefix")

	config.Maintenance.Schedule = v.GetString("maintenance.schedule")

	config.Log.Level = v.GetString("log.level")
	config.Metrics.Namespace = v.GetString("metrics.namespace")

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "spahost")
	v.SetDefault("database.path", "./data/spahost.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.root", "./data/sites")

	v.SetDefault("ingest.max_upload_size_bytes", 50<<20)
	v.SetDefault("ingest.max_uncompressed_ratio", 100.0)
	v.SetDefault("ingest.retain_versions", 5)
	v.SetDefault("ingest.lock_timeout_ms", 30000)
	v.SetDefault("ingest.entry_point_filename", "index.html")
	v.SetDefault("ingest.delete_grace_period", "5s")
	v.SetDefault("ingest.staging_max_age", "1h")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.redis_url", "redis://localhost:6379")
	v.SetDefault("lock.ttl", "30s")

	v.SetDefault("mirror.type", "none")
	v.SetDefault("mirror.base_dir", "./data/archives")
	v.SetDefault("mirror.s3_bucket", "")
	v.SetDefault("mirror.s3_region", "us-east-1")
	v.SetDefault("mirror.prefix", "")

	v.SetDefault("maintenance.schedule", "@every 15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.namespace", "spahost")
}

func (c *Config) validate() error {
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported lock backend: %s", c.Lock.Backend)
	}
	if c.Ingest.MaxUploadSizeBytes <= 0 {
		return fmt.Errorf("ingest.max_upload_size_bytes must be positive")
	}
	if c.Ingest.RetainVersions < 0 {
		return fmt.Errorf("ingest.retain_versions must not be negative")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	return nil
}
