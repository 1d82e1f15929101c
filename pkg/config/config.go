// Package config handles Feather configuration via environment variables and
// an optional YAML file.
//
// Precedence: defaults, then the YAML file (when given), then FEATHER_-
// prefixed environment variables. Validate() before use.
//
// Environment Variables:
//   - FEATHER_DATA_DIR="./data"
//   - FEATHER_DEFAULT_DIM=768
//   - FEATHER_HTTP_ADDRESS="0.0.0.0"
//   - FEATHER_HTTP_PORT=8460
//   - FEATHER_API_KEY_HASH="$2a$10$…"   (bcrypt hash; empty disables auth)
//   - FEATHER_CACHE_ENABLED=true
//   - FEATHER_CACHE_MAX_COST=10000
//   - FEATHER_HNSW_M=16
//   - FEATHER_HNSW_EF_CONSTRUCTION=200
//   - FEATHER_HNSW_EF_SEARCH=50
//   - FEATHER_SCORING_HALF_LIFE_DAYS=30
//   - FEATHER_SCORING_WEIGHT=0
//   - FEATHER_SCORING_MIN=0
//   - FEATHER_ARCHIVE_DIR="./archive"
//   - FEATHER_ARCHIVE_THRESHOLD=0.05
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Feather configuration.
type Config struct {
	// DataDir is where tenant snapshot files live.
	DataDir string `yaml:"data_dir"`

	// DefaultDim is the dimension given to the "text" modality of newly
	// created databases.
	DefaultDim int `yaml:"default_dim"`

	// Server holds the HTTP collaborator settings.
	Server ServerConfig `yaml:"server"`

	// Index holds HNSW construction and search parameters.
	Index IndexConfig `yaml:"index"`

	// Scoring holds the default living-context scoring parameters. The HTTP
	// server applies them, when their Weight is above zero, to search
	// requests that carry no scoring parameters of their own.
	Scoring ScoringConfig `yaml:"scoring"`

	// Cache holds search-result cache settings.
	Cache CacheConfig `yaml:"cache"`

	// Archive holds cold-store settings.
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// APIKeyHash is a bcrypt hash; requests must present a matching
	// X-API-Key. Empty disables authentication.
	APIKeyHash string `yaml:"api_key_hash"`
}

// IndexConfig holds HNSW parameters.
type IndexConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// ScoringConfig mirrors the scorer's parameters.
type ScoringConfig struct {
	HalfLifeDays float64 `yaml:"half_life_days"`
	Weight       float64 `yaml:"weight"`
	Min          float64 `yaml:"min"`
}

// CacheConfig holds result-cache settings.
type CacheConfig struct {
	Enabled bool  `yaml:"enabled"`
	MaxCost int64 `yaml:"max_cost"`
}

// ArchiveConfig holds cold-store settings.
type ArchiveConfig struct {
	// Dir is the Badger directory. Empty disables the archive.
	Dir string `yaml:"dir"`

	// Threshold is the time-component floor below which records are swept.
	Threshold float64 `yaml:"threshold"`
}

// Default returns the stated defaults.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		DefaultDim: 768,
		Server: ServerConfig{
			Address:      "0.0.0.0",
			Port:         8460,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Index: IndexConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		Scoring: ScoringConfig{
			HalfLifeDays: 30,
			Weight:       0,
			Min:          0,
		},
		Cache: CacheConfig{
			Enabled: false,
			MaxCost: 10_000,
		},
		Archive: ArchiveConfig{
			Threshold: 0.05,
		},
	}
}

// LoadFile overlays a YAML file onto the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFromEnv returns defaults overlaid with FEATHER_-prefixed environment
// variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	envStr("FEATHER_DATA_DIR", &c.DataDir)
	envInt("FEATHER_DEFAULT_DIM", &c.DefaultDim)
	envStr("FEATHER_HTTP_ADDRESS", &c.Server.Address)
	envInt("FEATHER_HTTP_PORT", &c.Server.Port)
	envStr("FEATHER_API_KEY_HASH", &c.Server.APIKeyHash)
	envBool("FEATHER_CACHE_ENABLED", &c.Cache.Enabled)
	envInt64("FEATHER_CACHE_MAX_COST", &c.Cache.MaxCost)
	envInt("FEATHER_HNSW_M", &c.Index.M)
	envInt("FEATHER_HNSW_EF_CONSTRUCTION", &c.Index.EfConstruction)
	envInt("FEATHER_HNSW_EF_SEARCH", &c.Index.EfSearch)
	envFloat("FEATHER_SCORING_HALF_LIFE_DAYS", &c.Scoring.HalfLifeDays)
	envFloat("FEATHER_SCORING_WEIGHT", &c.Scoring.Weight)
	envFloat("FEATHER_SCORING_MIN", &c.Scoring.Min)
	envStr("FEATHER_ARCHIVE_DIR", &c.Archive.Dir)
	envFloat("FEATHER_ARCHIVE_THRESHOLD", &c.Archive.Threshold)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.DefaultDim <= 0 {
		return fmt.Errorf("config: default_dim must be positive, got %d", c.DefaultDim)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: http port %d out of range", c.Server.Port)
	}
	if c.Index.M <= 1 {
		return fmt.Errorf("config: hnsw m must be at least 2, got %d", c.Index.M)
	}
	if c.Index.EfConstruction < c.Index.M {
		return fmt.Errorf("config: hnsw ef_construction %d below m %d", c.Index.EfConstruction, c.Index.M)
	}
	if c.Scoring.Weight < 0 || c.Scoring.Weight > 1 {
		return fmt.Errorf("config: scoring weight %v outside [0,1]", c.Scoring.Weight)
	}
	if c.Scoring.HalfLifeDays <= 0 {
		return fmt.Errorf("config: scoring half_life_days must be positive")
	}
	return nil
}

// WriteFile serializes the configuration to a YAML file.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
