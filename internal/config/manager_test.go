package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantErr     bool
		errContains string
	}{
		{
			name:   "defaults - ok",
			mutate: func(c *Config) {},
		},
		{
			name:        "missing cache root",
			mutate:      func(c *Config) { c.Cache.RootPath = "" },
			wantErr:     true,
			errContains: "cache.root_path",
		},
		{
			name:        "missing temp path",
			mutate:      func(c *Config) { c.Cache.TempPath = "" },
			wantErr:     true,
			errContains: "cache.temp_path",
		},
		{
			name:        "zero cache size",
			mutate:      func(c *Config) { c.Cache.MaxSizeBytes = 0 },
			wantErr:     true,
			errContains: "cache.max_size_bytes",
		},
		{
			name:        "negative min block",
			mutate:      func(c *Config) { c.Streaming.MinBlockBytes = -1 },
			wantErr:     true,
			errContains: "min_block_bytes",
		},
		{
			name:        "zero prefetch requests",
			mutate:      func(c *Config) { c.Streaming.MaxPrefetchRequests = 0 },
			wantErr:     true,
			errContains: "max_prefetch_requests",
		},
		{
			name:        "absurd prefetch factor",
			mutate:      func(c *Config) { c.Streaming.PrefetchFactor = 1000 },
			wantErr:     true,
			errContains: "prefetch_factor",
		},
		{
			name:        "max ping below initial ping",
			mutate:      func(c *Config) { c.Streaming.MaxPingMs = 100 },
			wantErr:     true,
			errContains: "ping bounds",
		},
		{
			name:        "api enabled without listen addr",
			mutate:      func(c *Config) { c.API.ListenAddr = "" },
			wantErr:     true,
			errContains: "api.listen_addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ToCoordinatorConfig(t *testing.T) {
	cfg := Default()
	cc := cfg.ToCoordinatorConfig()

	assert.Equal(t, int64(128*1024), cc.MinBlock)
	assert.Equal(t, 4, cc.MaxPrefetchRequests)
	assert.Equal(t, 4.0, cc.PrefetchFactor)
	assert.Equal(t, int64(1000), cc.DownloadTimeout.Milliseconds())
	assert.Equal(t, int64(500), cc.InitialPingEstimate.Milliseconds())
}

func TestConfig_ResolveURL(t *testing.T) {
	cfg := Default()
	_, err := cfg.ResolveURL("abcd")
	assert.Error(t, err)

	cfg.CDN.URLTemplate = "https://cdn.example.com/audio/{id}"
	url, err := cfg.ResolveURL("abcd")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/abcd", url)
}

func TestConfig_SaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.CDN.URLTemplate = "https://cdn.example.com/audio/{id}"
	cfg.Streaming.MaxPrefetchRequests = 8
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Streaming.MaxPrefetchRequests)
	assert.Equal(t, cfg.CDN.URLTemplate, loaded.CDN.URLTemplate)
}

func TestManager_OnConfigChange(t *testing.T) {
	cfg := Default()
	m := NewManager(cfg, "unused.yaml", nil)

	var gotOld, gotNew *Config
	m.OnConfigChange(func(oldConfig, newConfig *Config) {
		gotOld = oldConfig
		gotNew = newConfig
	})

	next := Default()
	next.Streaming.MaxPrefetchRequests = 2
	require.NoError(t, m.SetConfig(next))

	assert.Same(t, cfg, gotOld)
	assert.Same(t, next, gotNew)
	assert.Equal(t, 2, m.GetConfig().Streaming.MaxPrefetchRequests)
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	m := NewManager(Default(), "unused.yaml", nil)

	bad := Default()
	bad.Streaming.MaxPrefetchRequests = 0
	assert.Error(t, m.SetConfig(bad))
	assert.Equal(t, 4, m.GetConfig().Streaming.MaxPrefetchRequests)
}
