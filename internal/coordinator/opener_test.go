package coordinator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonantlabs/streamcache/internal/cdn"
	"github.com/resonantlabs/streamcache/internal/filecache"
	"github.com/resonantlabs/streamcache/internal/rangeset"
	"github.com/resonantlabs/streamcache/internal/ratemeter"
	"github.com/resonantlabs/streamcache/internal/streamerr"
)

func newTestOpener(t *testing.T, content []byte) (*Opener, *cdn.FakeClient, *filecache.LRU) {
	t.Helper()

	fs := afero.NewMemMapFs()
	cache, err := filecache.Open(fs, "/cache", 64*1024*1024, discardLogger())
	require.NoError(t, err)

	fake := cdn.NewFakeClient(content)
	opener := NewOpener(cache, fake, DefaultConfig(), fs, "/tmp-stream", ratemeter.New(), discardLogger())
	return opener, fake, cache
}

func TestOpener_MissStreamsAndAdmits(t *testing.T) {
	content := testContent(300 * 1024)
	opener, _, cache := newTestOpener(t, content)

	f, err := opener.Open(context.Background(), "track-a", testBps, true)
	require.NoError(t, err)

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Once the coordinator finishes, the file lands in the cache.
	require.Eventually(t, func() bool { return cache.ItemCount() == 1 }, 10*time.Second, 10*time.Millisecond)
	require.NoError(t, f.Close())

	// A second open is a cache hit served without touching the network.
	f2, err := opener.Open(context.Background(), "track-a", testBps, true)
	require.NoError(t, err)
	defer f2.Close()

	_, isCached := f2.(*CachedFile)
	assert.True(t, isCached)
	assert.Equal(t, int64(len(content)), f2.Len())
	assert.True(t, f2.RangeToEndAvailable())
	assert.True(t, f2.RangeAvailable(rangeset.Range{Start: 0, End: f2.Len()}))

	got2, err := io.ReadAll(f2)
	require.NoError(t, err)
	assert.Equal(t, content, got2)
}

func TestOpener_EmptyFileIsUnavailable(t *testing.T) {
	opener, _, _ := newTestOpener(t, nil)

	_, err := opener.Open(context.Background(), "track-empty", testBps, true)
	require.Error(t, err)
	assert.True(t, streamerr.Is(err, streamerr.KindUnavailable))
}

func TestOpener_InitialWindowSizing(t *testing.T) {
	cfg := DefaultConfig()

	// Before playback begins the pre-play read-ahead applies on top of the
	// minimum block.
	withPlayback := cfg.InitialDownloadSize(testBps, true)
	assert.Equal(t, int64(128*1024)+int64(cfg.ReadAheadSecsPrePlay.Seconds()*testBps), withPlayback)

	// An open that will immediately seek elsewhere only needs the prefix
	// that carries the file size.
	assert.Equal(t, int64(128*1024), cfg.InitialDownloadSize(testBps, false))
}

func TestOpener_WarmPopulatesCache(t *testing.T) {
	content := testContent(200 * 1024)
	opener, _, cache := newTestOpener(t, content)

	require.NoError(t, opener.Warm(context.Background(), "track-warm", testBps))
	require.Eventually(t, func() bool { return cache.ItemCount() == 1 }, 10*time.Second, 10*time.Millisecond)

	f, err := opener.Open(context.Background(), "track-warm", testBps, false)
	require.NoError(t, err)
	defer f.Close()
	_, isCached := f.(*CachedFile)
	assert.True(t, isCached)
}
