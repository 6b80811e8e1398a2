// Package config provides configuration loading for vectord.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults underneath.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete vectord configuration.
type Config struct {
	Server   ServerConfig       `koanf:"server"`
	Logging  LoggingConfig      `koanf:"logging"`
	Storage  StorageConfig      `koanf:"storage"`
	NATS     NATSConfig         `koanf:"nats"`
	Defaults CollectionDefaults `koanf:"defaults"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level    string `koanf:"level"`    // trace, debug, info, warn, error
	Encoding string `koanf:"encoding"` // json or console
}

// StorageConfig holds durable storage configuration.
type StorageConfig struct {
	// DataDir is the root directory for per-collection write-ahead logs.
	DataDir string `koanf:"data_dir"`
}

// NATSConfig holds the optional eventing configuration. When disabled, the
// daemon runs without a broker and generation events are dropped.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   Secret `koanf:"token"`
}

// CollectionDefaults are applied to collections created without explicit
// overrides.
type CollectionDefaults struct {
	// Query planning.
	OverfetchFactor  int     `koanf:"overfetch_factor"`
	SelectivityRatio float64 `koanf:"selectivity_ratio"`
	RRFConstant      float64 `koanf:"rrf_constant"`
	VectorWeight     float64 `koanf:"vector_weight"`
	LexicalWeight    float64 `koanf:"lexical_weight"`

	// Semantic cache.
	CacheSimilarityThreshold float64  `koanf:"cache_similarity_threshold"`
	CacheTTL                 Duration `koanf:"cache_ttl"`
	CacheMaxPerTenant        int      `koanf:"cache_max_per_tenant"`

	// Index lifecycle.
	FlatThreshold    int      `koanf:"flat_threshold"`
	RebuildThreshold int      `koanf:"rebuild_threshold"`
	DriftThreshold   float64  `koanf:"drift_threshold"`
	MaintainInterval Duration `koanf:"maintain_interval"`
	RetryInterval    Duration `koanf:"retry_interval"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8480
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Encoding == "" {
		cfg.Logging.Encoding = "json"
	}

	if cfg.Storage.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Storage.DataDir = filepath.Join(home, ".local", "share", "vectord")
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}

	d := &cfg.Defaults
	if d.OverfetchFactor == 0 {
		d.OverfetchFactor = 3
	}
	if d.SelectivityRatio == 0 {
		d.SelectivityRatio = 0.05
	}
	if d.RRFConstant == 0 {
		d.RRFConstant = 60
	}
	if d.VectorWeight == 0 {
		d.VectorWeight = 1.0
	}
	if d.LexicalWeight == 0 {
		d.LexicalWeight = 0.5
	}
	if d.CacheSimilarityThreshold == 0 {
		d.CacheSimilarityThreshold = 0.97
	}
	if d.CacheTTL == 0 {
		d.CacheTTL = Duration(5 * time.Minute)
	}
	if d.CacheMaxPerTenant == 0 {
		d.CacheMaxPerTenant = 128
	}
	if d.FlatThreshold == 0 {
		d.FlatThreshold = 10000
	}
	if d.RebuildThreshold == 0 {
		d.RebuildThreshold = 1000
	}
	if d.DriftThreshold == 0 {
		d.DriftThreshold = 1.5
	}
	if d.MaintainInterval == 0 {
		d.MaintainInterval = Duration(2 * time.Second)
	}
	if d.RetryInterval == 0 {
		d.RetryInterval = Duration(10 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %q", c.Logging.Encoding)
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage data_dir must be set")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}

	d := c.Defaults
	if d.OverfetchFactor < 1 {
		return errors.New("overfetch_factor must be at least 1")
	}
	if d.SelectivityRatio <= 0 || d.SelectivityRatio >= 1 {
		return errors.New("selectivity_ratio must be in (0, 1)")
	}
	if d.CacheSimilarityThreshold <= 0 || d.CacheSimilarityThreshold > 1 {
		return errors.New("cache_similarity_threshold must be in (0, 1]")
	}
	if d.DriftThreshold <= 1 {
		return errors.New("drift_threshold must be above 1")
	}
	return nil
}
