// Package stores opens one of the authsdk storage backends from configuration.
package stores

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/datastore"
	"github.com/caarlos0/env/v11"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	oa "github.com/panyam/authsdk"
	"github.com/panyam/authsdk/stores/fs"
	"github.com/panyam/authsdk/stores/gae"
	gormstore "github.com/panyam/authsdk/stores/gorm"
	"github.com/panyam/authsdk/stores/memory"
	redisstore "github.com/panyam/authsdk/stores/redis"
)

// Supported drivers
const (
	DriverMemory    = "memory"
	DriverFS        = "fs"
	DriverSQLite    = "sqlite"
	DriverRedis     = "redis"
	DriverDatastore = "datastore"
)

// DefaultEnvPrefix is the prefix LoadDriverConfig uses when none is given.
const DefaultEnvPrefix = "AUTH_STORE_"

// DriverConfig selects and configures a backend. Load it from the
// environment with LoadDriverConfig; the tags are unprefixed, so a plain
// env.Parse would read Path from the system PATH.
type DriverConfig struct {
	Driver string `env:"DRIVER" envDefault:"memory"`

	// Path is the storage directory for fs and the DSN for sqlite
	Path string `env:"PATH"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	Prefix        string `env:"PREFIX"`

	ProjectID string `env:"PROJECT_ID"`
	Namespace string `env:"NAMESPACE"`

	WithEmails  bool `env:"WITH_EMAILS" envDefault:"true"`
	WithSecrets bool `env:"WITH_SECRETS" envDefault:"true"`
}

// LoadDriverConfig reads a DriverConfig from variables named prefix+tag,
// e.g. AUTH_STORE_DRIVER and AUTH_STORE_PATH. An empty prefix means
// DefaultEnvPrefix.
func LoadDriverConfig(prefix string) (DriverConfig, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	cfg, err := env.ParseAsWithOptions[DriverConfig](env.Options{Prefix: prefix})
	if err != nil {
		return DriverConfig{}, fmt.Errorf("parse store env: %w", err)
	}
	return cfg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open builds the models for cfg.Driver. The returned closer releases any
// connection the backend holds.
func Open(ctx context.Context, cfg DriverConfig) (*oa.Models, io.Closer, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverMemory
	}
	slog.Info("Opening auth store", "driver", driver)

	switch driver {
	case DriverMemory:
		return memory.NewModels(cfg.WithEmails, cfg.WithSecrets), nopCloser{}, nil

	case DriverFS:
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("fs driver requires a storage path")
		}
		return fs.NewModels(cfg.Path, cfg.WithEmails, cfg.WithSecrets), nopCloser{}, nil

	case DriverSQLite:
		dsn := cfg.Path
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		// sqlite admits one writer at a time
		sqlDB.SetMaxOpenConns(1)
		return gormstore.NewModels(db, cfg.WithEmails, cfg.WithSecrets), sqlDB, nil

	case DriverRedis:
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewModels(client, cfg.Prefix, cfg.WithEmails, cfg.WithSecrets), client, nil

	case DriverDatastore:
		if cfg.ProjectID == "" {
			return nil, nil, fmt.Errorf("datastore driver requires a project id")
		}
		client, err := datastore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		return gae.NewModels(client, cfg.Namespace, cfg.WithEmails, cfg.WithSecrets), closerFunc(client.Close), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
