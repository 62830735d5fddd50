// Package config loads and validates the process-wide configuration: the
// streaming tunables, cache paths, CDN settings, and the log/API surface.
// The loaded Config is handed down by value into each coordinator at
// construction; a live reload never mutates a stream already in flight.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/resonantlabs/streamcache/internal/coordinator"
)

// Config is the root configuration document.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	CDN       CDNConfig       `yaml:"cdn" mapstructure:"cdn"`
	Streaming StreamingConfig `yaml:"streaming" mapstructure:"streaming"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
}

// LogConfig controls structured log output and rotation.
type LogConfig struct {
	// File is the log file path; empty logs to stderr without rotation.
	File       string `yaml:"file" mapstructure:"file"`
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// CacheConfig controls the on-disk LRU of completed files and the sibling
// directory holding temp files for in-flight streams.
type CacheConfig struct {
	RootPath     string `yaml:"root_path" mapstructure:"root_path"`
	TempPath     string `yaml:"temp_path" mapstructure:"temp_path"`
	MaxSizeBytes int64  `yaml:"max_size_bytes" mapstructure:"max_size_bytes"`
}

// CDNConfig controls how file ids resolve to CDN URLs and how long a
// single range request may take.
type CDNConfig struct {
	// URLTemplate turns a file id into its CDN URL; `{id}` is replaced by
	// the hex-encoded file id.
	URLTemplate           string `yaml:"url_template" mapstructure:"url_template"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

// StreamingConfig carries the prefetch and read-ahead tunables.
type StreamingConfig struct {
	MinBlockBytes              int64   `yaml:"min_block_bytes" mapstructure:"min_block_bytes"`
	InitialPingMs              int     `yaml:"initial_ping_ms" mapstructure:"initial_ping_ms"`
	MaxPingMs                  int     `yaml:"max_ping_ms" mapstructure:"max_ping_ms"`
	ReadAheadSecondsPlaying    int     `yaml:"read_ahead_seconds_playing" mapstructure:"read_ahead_seconds_playing"`
	ReadAheadSecondsPrePlay    int     `yaml:"read_ahead_seconds_pre_play" mapstructure:"read_ahead_seconds_pre_play"`
	ReadAheadRoundtripsPlaying float64 `yaml:"read_ahead_roundtrips_playing" mapstructure:"read_ahead_roundtrips_playing"`
	ReadAheadRoundtripsPrePlay float64 `yaml:"read_ahead_roundtrips_pre_play" mapstructure:"read_ahead_roundtrips_pre_play"`
	PrefetchFactor             float64 `yaml:"prefetch_factor" mapstructure:"prefetch_factor"`
	FastPrefetchFactor         float64 `yaml:"fast_prefetch_factor" mapstructure:"fast_prefetch_factor"`
	MaxPrefetchRequests        int     `yaml:"max_prefetch_requests" mapstructure:"max_prefetch_requests"`
	DownloadTimeoutMs          int     `yaml:"download_timeout_ms" mapstructure:"download_timeout_ms"`
}

// APIConfig controls the diagnostics HTTP surface.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Cache: CacheConfig{
			RootPath:     "./cache/files",
			TempPath:     "./cache/tmp",
			MaxSizeBytes: 10 * 1024 * 1024 * 1024,
		},
		CDN: CDNConfig{
			RequestTimeoutSeconds: 30,
		},
		Streaming: StreamingConfig{
			MinBlockBytes:              128 * 1024,
			InitialPingMs:              500,
			MaxPingMs:                  1500,
			ReadAheadSecondsPlaying:    5,
			ReadAheadSecondsPrePlay:    1,
			ReadAheadRoundtripsPlaying: 10,
			ReadAheadRoundtripsPrePlay: 2,
			PrefetchFactor:             4.0,
			FastPrefetchFactor:         1.5,
			MaxPrefetchRequests:        4,
			DownloadTimeoutMs:          1000,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: ":8321",
		},
	}
}

// Validate rejects configurations that would misbehave at runtime rather
// than letting them surface as stalls or runaway prefetch later.
func (c *Config) Validate() error {
	if c.Cache.RootPath == "" {
		return fmt.Errorf("cache.root_path is required")
	}
	if c.Cache.TempPath == "" {
		return fmt.Errorf("cache.temp_path is required")
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache.max_size_bytes must be positive, got %d", c.Cache.MaxSizeBytes)
	}
	if c.Streaming.MinBlockBytes <= 0 {
		return fmt.Errorf("streaming.min_block_bytes must be positive, got %d", c.Streaming.MinBlockBytes)
	}
	if c.Streaming.MaxPrefetchRequests <= 0 {
		return fmt.Errorf("streaming.max_prefetch_requests must be positive, got %d", c.Streaming.MaxPrefetchRequests)
	}
	if c.Streaming.PrefetchFactor <= 0 || c.Streaming.PrefetchFactor > 100 {
		return fmt.Errorf("streaming.prefetch_factor must be in (0, 100], got %g", c.Streaming.PrefetchFactor)
	}
	if c.Streaming.FastPrefetchFactor <= 0 || c.Streaming.FastPrefetchFactor > 100 {
		return fmt.Errorf("streaming.fast_prefetch_factor must be in (0, 100], got %g", c.Streaming.FastPrefetchFactor)
	}
	if c.Streaming.DownloadTimeoutMs <= 0 {
		return fmt.Errorf("streaming.download_timeout_ms must be positive, got %d", c.Streaming.DownloadTimeoutMs)
	}
	if c.Streaming.InitialPingMs <= 0 || c.Streaming.MaxPingMs < c.Streaming.InitialPingMs {
		return fmt.Errorf("streaming ping bounds invalid: initial %d ms, max %d ms",
			c.Streaming.InitialPingMs, c.Streaming.MaxPingMs)
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when the API is enabled")
	}
	return nil
}

// ToCoordinatorConfig converts the streaming section into the value type
// each coordinator captures at construction.
func (c *Config) ToCoordinatorConfig() coordinator.Config {
	s := c.Streaming
	return coordinator.Config{
		MinBlock:                   s.MinBlockBytes,
		InitialPingEstimate:        time.Duration(s.InitialPingMs) * time.Millisecond,
		MaxPing:                    time.Duration(s.MaxPingMs) * time.Millisecond,
		ReadAheadSecsPlaying:       time.Duration(s.ReadAheadSecondsPlaying) * time.Second,
		ReadAheadSecsPrePlay:       time.Duration(s.ReadAheadSecondsPrePlay) * time.Second,
		ReadAheadRoundtripsPlaying: s.ReadAheadRoundtripsPlaying,
		ReadAheadRoundtripsPrePlay: s.ReadAheadRoundtripsPrePlay,
		PrefetchFactor:             s.PrefetchFactor,
		FastPrefetchFactor:         s.FastPrefetchFactor,
		MaxPrefetchRequests:        s.MaxPrefetchRequests,
		DownloadTimeout:            time.Duration(s.DownloadTimeoutMs) * time.Millisecond,
	}
}

// RequestTimeout returns the CDN per-request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.CDN.RequestTimeoutSeconds) * time.Second
}

// ResolveURL expands the CDN URL template for fileID.
func (c *Config) ResolveURL(fileID string) (string, error) {
	if c.CDN.URLTemplate == "" {
		return "", fmt.Errorf("cdn.url_template is not configured")
	}
	return strings.ReplaceAll(c.CDN.URLTemplate, "{id}", fileID), nil
}

// Load reads the config file at path, applies environment overrides with
// the STREAMCACHE_ prefix, and validates the result. A missing file is not
// an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STREAMCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes cfg as YAML to path, creating parent directories as
// needed. Used to seed a starter config file.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
