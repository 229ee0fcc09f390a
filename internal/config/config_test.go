// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universalmind303/lancedb/pkg/contracts"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.IsRemote())
	assert.Equal(t, "zstd", cfg.Compression)
}

func TestLoadFromFileYAML(t *testing.T) {
	path := writeFile(t, "lancedb.yaml", `
uri: s3://bucket/prefix
read_consistency_interval: 5
compression: lz4
fragment_cache_size: 64
storage:
  max_retries: 4
  s3_config:
    region: eu-west-1
    endpoint: http://localhost:9000
    force_path_style: true
log:
  level: debug
  format: json
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "s3://bucket/prefix", cfg.URI)
	require.NotNil(t, cfg.ReadConsistencyInterval)
	assert.Equal(t, 5, *cfg.ReadConsistencyInterval)
	assert.Equal(t, "lz4", cfg.Compression)
	require.NotNil(t, cfg.Storage)
	require.NotNil(t, cfg.Storage.S3Config)
	assert.Equal(t, "eu-west-1", *cfg.Storage.S3Config.Region)
	assert.True(t, *cfg.Storage.S3Config.ForcePathStyle)
	assert.Equal(t, 4, *cfg.Storage.MaxRetries)
	assert.Equal(t, "json", cfg.Log.Format)

	opts, err := cfg.ConnectionOptions()
	require.NoError(t, err)
	assert.Equal(t, "lz4", *opts.DataFileCompression)
	assert.Equal(t, 64, *opts.FragmentCacheSize)
	assert.Nil(t, opts.APIKey)
	assert.NotNil(t, opts.Logger)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "lancedb.json", `{"uri":"db://mydb","api_key":"sk-1","region":"us-west-2","max_retries":1}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsRemote())

	opts, err := cfg.ConnectionOptions()
	require.NoError(t, err)
	assert.Equal(t, "sk-1", *opts.APIKey)
	assert.Equal(t, "us-west-2", *opts.Region)
	assert.Equal(t, 1, *opts.MaxRetries)
	// Unset fields keep their defaults.
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "lancedb.toml", "uri = 1"))
	assert.ErrorIs(t, err, contracts.ErrConfiguration)

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "uri: [unterminated"))
	assert.ErrorIs(t, err, contracts.ErrConfiguration)
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "lancedb.yml", "uri: memory://file\ncompression: snappy\n")
	t.Setenv("LANCEDB_URI", "db://envdb")
	t.Setenv("LANCEDB_API_KEY", "sk-env")
	t.Setenv("LANCEDB_HOST_OVERRIDE", "http://localhost:8080")
	t.Setenv("LANCEDB_READ_CONSISTENCY_INTERVAL", "0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db://envdb", cfg.URI)
	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.Equal(t, "http://localhost:8080", cfg.HostOverride)
	assert.Equal(t, "snappy", cfg.Compression)
	require.NotNil(t, cfg.ReadConsistencyInterval)
	assert.Equal(t, 0, *cfg.ReadConsistencyInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("LANCEDB_READ_CONSISTENCY_INTERVAL", "soon")
	_, err := Load("")
	assert.ErrorIs(t, err, contracts.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty uri", func(c *Config) { c.URI = "" }},
		{"unknown scheme", func(c *Config) { c.URI = "gs://bucket" }},
		{"db without name", func(c *Config) { c.URI = "db://"; c.APIKey = "k" }},
		{"db without key", func(c *Config) { c.URI = "db://mydb" }},
		{"bad compression", func(c *Config) { c.Compression = "brotli" }},
		{"negative interval", func(c *Config) { c.ReadConsistencyInterval = &neg }},
		{"negative retries", func(c *Config) { c.MaxRetries = &neg }},
		{"negative cache", func(c *Config) { c.FragmentCacheSize = -5 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, contracts.ErrConfiguration)
			_, err = cfg.ConnectionOptions()
			assert.ErrorIs(t, err, contracts.ErrConfiguration)
		})
	}
}

func TestLogConfigLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "info", Format: "json"}.Logger(&buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "table", "items")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"table":"items"`)
}
