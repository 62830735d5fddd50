package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonantlabs/streamcache/internal/config"
	"github.com/resonantlabs/streamcache/internal/filecache"
	"github.com/resonantlabs/streamcache/internal/ratemeter"
)

func testServer(t *testing.T) (*Server, *filecache.LRU) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := filecache.Open(afero.NewMemMapFs(), "/cache", 1024*1024, logger)
	require.NoError(t, err)

	m := config.NewManager(config.Default(), "unused.yaml", logger)
	return NewServer(cache, ratemeter.New(), m, logger), cache
}

func TestServer_HealthzNotReady(t *testing.T) {
	s, _ := testServer(t)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, "10", resp.Header.Get("Retry-After"))
}

func TestServer_HealthzReady(t *testing.T) {
	s, _ := testServer(t)
	s.SetReady(true)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
}

func TestServer_Stats(t *testing.T) {
	s, cache := testServer(t)

	_, err := cache.Admit("abc", strings.NewReader("hello"))
	require.NoError(t, err)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Cache struct {
				Items      int   `json:"items"`
				TotalBytes int64 `json:"total_bytes"`
			} `json:"cache"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Data.Cache.Items)
	assert.Equal(t, int64(5), body.Data.Cache.TotalBytes)
}

func TestServer_CacheRemove(t *testing.T) {
	s, cache := testServer(t)

	_, err := cache.Admit("abc", strings.NewReader("hello"))
	require.NoError(t, err)

	resp, err := s.App().Test(httptest.NewRequest("DELETE", "/api/cache/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 0, cache.ItemCount())
}

func TestServer_Config(t *testing.T) {
	s, _ := testServer(t)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/config", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
