// Package config loads the process configuration from a YAML file with
// CINDER_* environment variable overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Server Server `yaml:"server"`
	Redis  Redis  `yaml:"redis"`
	Blob   Blob   `yaml:"blob"`
	SQLite SQLite `yaml:"sqlite"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr string `yaml:"addr"`
	// LongPollSeconds caps GET update waits; the caller may ask for
	// less, never more.
	LongPollSeconds int `yaml:"long_poll_seconds"`
}

// Redis configures the optional queue intake. Disabled when Addr is
// empty.
type Redis struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	QueueKey string `yaml:"queue_key"`
}

// Blob configures the blob store backends.
type Blob struct {
	// LocalRoot is the absolute directory file:// blobs live under.
	LocalRoot string `yaml:"local_root"`
	// S3Region enables the object backend when non-empty.
	S3Region string `yaml:"s3_region"`
}

// SQLite configures the durable journal and request-state index.
type SQLite struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", LongPollSeconds: 30},
		Redis:  Redis{QueueKey: "cinder:allocations"},
		Blob:   Blob{LocalRoot: "/var/lib/cinder/blobs"},
		SQLite: SQLite{Path: "/var/lib/cinder/cinder.db"},
	}
}

// Load reads a YAML config file, layers environment overrides on top
// and validates the result. An empty path loads defaults plus
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		// Strict field validation catches typos in config keys.
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with CINDER_* environment variables.
func applyEnv(cfg *Config) {
	setString := func(key string, into *string) {
		if v, ok := os.LookupEnv(key); ok {
			*into = v
		}
	}
	setInt := func(key string, into *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*into = n
			}
		}
	}

	setString("CINDER_SERVER_ADDR", &cfg.Server.Addr)
	setInt("CINDER_LONG_POLL_SECONDS", &cfg.Server.LongPollSeconds)
	setString("CINDER_REDIS_ADDR", &cfg.Redis.Addr)
	setInt("CINDER_REDIS_DB", &cfg.Redis.DB)
	setString("CINDER_REDIS_QUEUE", &cfg.Redis.QueueKey)
	setString("CINDER_BLOB_ROOT", &cfg.Blob.LocalRoot)
	setString("CINDER_S3_REGION", &cfg.Blob.S3Region)
	setString("CINDER_SQLITE_PATH", &cfg.SQLite.Path)
}

func validate(cfg Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Server.LongPollSeconds <= 0 {
		return fmt.Errorf("server.long_poll_seconds must be positive")
	}
	if cfg.Blob.LocalRoot == "" {
		return fmt.Errorf("blob.local_root is required")
	}
	if !filepath.IsAbs(cfg.Blob.LocalRoot) {
		return fmt.Errorf("blob.local_root must be an absolute path, got %q", cfg.Blob.LocalRoot)
	}
	if cfg.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	return nil
}
