// Package config provides configuration management for newsflow.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// Defaults for settings that are most often left untouched.
const (
	DefaultAdminAddr      = "127.0.0.1:8787"
	DefaultEmbedModel     = "text-embedding-3-small"
	DefaultEmbedBaseURL   = "https://api.openai.com"
	DefaultEmbedDimension = 1536
)

// Config holds all runtime settings. Thresholds and pool sizes are
// explicit fields so tests can construct a Config per case instead of
// relying on ambient globals.
type Config struct {
	// Storage
	DBPath   string `json:"db_path,omitempty"` // empty: <data dir>/newsflow.db
	MaxConns int    `json:"max_conns"`

	// Embedding provider
	EmbedBaseURL   string        `json:"embed_base_url"`
	EmbedModel     string        `json:"embed_model"`
	EmbedDimension int           `json:"embed_dimension"`
	EmbedTimeout   time.Duration `json:"embed_timeout"`
	EmbedRetries   int           `json:"embed_retries"`
	EmbedBackoff   time.Duration `json:"embed_backoff"`

	// Optional redis embedding cache; empty disables caching.
	RedisAddr string        `json:"redis_addr,omitempty"`
	CacheTTL  time.Duration `json:"cache_ttl"`

	// Enrichment / summarization endpoint
	EnrichBaseURL string        `json:"enrich_base_url"`
	EnrichTimeout time.Duration `json:"enrich_timeout"`
	EnrichRetries int           `json:"enrich_retries"`

	// Resolution
	Workers         int    `json:"workers"`
	CollectionsPath string `json:"collections_path,omitempty"`

	// Clustering
	MinClusterSize     int           `json:"min_cluster_size"`
	ClusterEps         float64       `json:"cluster_eps"`
	OversizeFraction   float64       `json:"oversize_fraction"`
	MergeThreshold     float64       `json:"merge_threshold"`
	ReprocessThreshold float64       `json:"reprocess_threshold"`
	MemberPoolWindow   time.Duration `json:"member_pool_window"`

	// Trend projection
	MinTrendRelevance float64 `json:"min_trend_relevance"`

	// Scheduling / admin
	RunInterval time.Duration `json:"run_interval"`
	AdminAddr   string        `json:"admin_addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MaxConns:           4,
		EmbedBaseURL:       DefaultEmbedBaseURL,
		EmbedModel:         DefaultEmbedModel,
		EmbedDimension:     DefaultEmbedDimension,
		EmbedTimeout:       20 * time.Second,
		EmbedRetries:       3,
		EmbedBackoff:       time.Second,
		CacheTTL:           24 * time.Hour,
		EnrichTimeout:      60 * time.Second,
		EnrichRetries:      3,
		Workers:            10,
		MinClusterSize:     5,
		ClusterEps:         0.35,
		OversizeFraction:   0.10,
		MergeThreshold:     0.9,
		ReprocessThreshold: 0.5,
		MemberPoolWindow:   72 * time.Hour,
		MinTrendRelevance:  0.5,
		RunInterval:        30 * time.Minute,
		AdminAddr:          DefaultAdminAddr,
	}
}

// DataDir returns the newsflow data directory (~/.newsflow).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".newsflow"
	}
	return filepath.Join(home, ".newsflow")
}

// DBPath returns the default database path.
func DBPath() string {
	return filepath.Join(DataDir(), "newsflow.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// CollectionsDefaultPath returns the default collections registry path.
func CollectionsDefaultPath() string {
	return filepath.Join(DataDir(), "collections.yml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return Default().Save()
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json from the data dir, filling unset fields with
// defaults.
func Load() (*Config, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyFloors()
	return cfg, nil
}

// Save writes the config to settings.json.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(SettingsPath(), data, 0o644)
}

// ResolvedDBPath returns the configured DB path or the default.
func (c *Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return DBPath()
}

// ResolvedCollectionsPath returns the configured registry path or the
// default.
func (c *Config) ResolvedCollectionsPath() string {
	if c.CollectionsPath != "" {
		return c.CollectionsPath
	}
	return CollectionsDefaultPath()
}

// applyFloors clamps values a hand-edited settings file could break.
func (c *Config) applyFloors() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.MinClusterSize < 2 {
		c.MinClusterSize = 2
	}
	if c.OversizeFraction <= 0 || c.OversizeFraction > 1 {
		c.OversizeFraction = 0.10
	}
	if c.EmbedRetries < 1 {
		c.EmbedRetries = 1
	}
}
