// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package config loads connection settings from YAML or JSON files and
// LANCEDB_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/universalmind303/lancedb/internal/codec"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

const envPrefix = "LANCEDB_"

// Config is the file and environment form of contracts.ConnectionOptions.
type Config struct {
	// URI selects the backend: db://<database> for LanceDB Cloud, anything
	// else (memory://, file://, s3://bucket/prefix, a plain path) is native.
	URI string `json:"uri" yaml:"uri"`

	Region       string `json:"region,omitempty" yaml:"region,omitempty"`
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	HostOverride string `json:"host_override,omitempty" yaml:"host_override,omitempty"`

	// ReadConsistencyInterval in seconds. Unset means a handle only sees
	// its own writes.
	ReadConsistencyInterval *int `json:"read_consistency_interval,omitempty" yaml:"read_consistency_interval,omitempty"`

	MaxRetries        *int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RequestsPerSecond *float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`

	// Compression of native data files: none, lz4, zstd or snappy.
	Compression       string `json:"compression,omitempty" yaml:"compression,omitempty"`
	FragmentCacheSize int    `json:"fragment_cache_size,omitempty" yaml:"fragment_cache_size,omitempty"`

	Storage *contracts.StorageOptions `json:"storage,omitempty" yaml:"storage,omitempty"`

	Log LogConfig `json:"log" yaml:"log"`
}

// LogConfig selects the slog handler built by ConnectionOptions.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() *Config {
	return &Config{
		URI:         "memory://default",
		Compression: codec.CompressionZstd.String(),
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w: %w", err, contracts.ErrConfiguration)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w: %w", err, contracts.ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format %q: %w", ext, contracts.ErrConfiguration)
	}

	return cfg, nil
}

// Load reads path when it is not empty, then applies the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overlays LANCEDB_* environment variables onto cfg.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv(envPrefix + "URI"); v != "" {
		cfg.URI = v
	}
	if v := os.Getenv(envPrefix + "API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(envPrefix + "REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv(envPrefix + "HOST_OVERRIDE"); v != "" {
		cfg.HostOverride = v
	}
	if v := os.Getenv(envPrefix + "COMPRESSION"); v != "" {
		cfg.Compression = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "READ_CONSISTENCY_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREAD_CONSISTENCY_INTERVAL=%q: %w", envPrefix, v, contracts.ErrConfiguration)
		}
		cfg.ReadConsistencyInterval = &n
	}
	if v := os.Getenv(envPrefix + "MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_RETRIES=%q: %w", envPrefix, v, contracts.ErrConfiguration)
		}
		cfg.MaxRetries = &n
	}
	return nil
}

// IsRemote reports whether the URI addresses LanceDB Cloud.
func (c *Config) IsRemote() bool {
	return strings.HasPrefix(c.URI, "db://")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required: %w", contracts.ErrConfiguration)
	}
	u, err := url.Parse(c.URI)
	if err != nil {
		return fmt.Errorf("invalid uri %q: %w", c.URI, contracts.ErrConfiguration)
	}
	switch u.Scheme {
	case "", "file", "memory", "s3":
	case "db":
		if u.Host == "" {
			return fmt.Errorf("db:// uri needs a database name: %w", contracts.ErrConfiguration)
		}
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for %s: %w", c.URI, contracts.ErrConfiguration)
		}
	default:
		return fmt.Errorf("unsupported uri scheme %q: %w", u.Scheme, contracts.ErrConfiguration)
	}

	if c.Compression != "" {
		if _, err := codec.ParseCompression(c.Compression); err != nil {
			return fmt.Errorf("%w (must be none, lz4, zstd or snappy): %w", err, contracts.ErrConfiguration)
		}
	}
	if c.ReadConsistencyInterval != nil && *c.ReadConsistencyInterval < 0 {
		return fmt.Errorf("read_consistency_interval must not be negative: %w", contracts.ErrConfiguration)
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative: %w", contracts.ErrConfiguration)
	}
	if c.RequestsPerSecond != nil && *c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative: %w", contracts.ErrConfiguration)
	}
	if c.FragmentCacheSize < 0 {
		return fmt.Errorf("fragment_cache_size must not be negative: %w", contracts.ErrConfiguration)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	if f := c.Log.Format; f != "" && f != "text" && f != "json" {
		return fmt.Errorf("invalid log format %q (must be text or json): %w", f, contracts.ErrConfiguration)
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, contracts.ErrConfiguration)
	}
	return level, nil
}

// Logger builds the slog logger described by the log section.
func (l LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	if l.Format == "json" {
		return logging.NewJSONLogger(w, level).Logger, nil
	}
	return logging.NewTextLogger(w, level).Logger, nil
}

// ConnectionOptions converts the configuration. Logs go to stderr.
func (c *Config) ConnectionOptions() (*contracts.ConnectionOptions, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger, err := c.Log.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}
	opts := &contracts.ConnectionOptions{
		ReadConsistencyInterval: c.ReadConsistencyInterval,
		StorageOptions:          c.Storage,
		MaxRetries:              c.MaxRetries,
		RequestsPerSecond:       c.RequestsPerSecond,
		Logger:                  logger,
	}
	if c.Region != "" {
		opts.Region = &c.Region
	}
	if c.APIKey != "" {
		opts.APIKey = &c.APIKey
	}
	if c.HostOverride != "" {
		opts.HostOverride = &c.HostOverride
	}
	if c.Compression != "" {
		opts.DataFileCompression = &c.Compression
	}
	if c.FragmentCacheSize > 0 {
		opts.FragmentCacheSize = &c.FragmentCacheSize
	}
	return opts, nil
}
