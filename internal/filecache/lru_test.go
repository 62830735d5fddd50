package filecache

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, capBytes int64) *LRU {
	t.Helper()
	fs := afero.NewMemMapFs()
	c, err := Open(fs, "/cache", capBytes, slog.Default())
	require.NoError(t, err)
	return c
}

func TestLRU_AdmitAndLookup(t *testing.T) {
	c := newTestCache(t, 1<<20)

	_, err := c.Admit("track-1", bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)

	f, ok := c.Lookup("track-1")
	require.True(t, ok)
	defer f.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)
	assert.Equal(t, "hello world", buf.String())
}

func TestLRU_LookupMiss(t *testing.T) {
	c := newTestCache(t, 1<<20)
	_, ok := c.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestLRU_Remove(t *testing.T) {
	c := newTestCache(t, 1<<20)
	_, err := c.Admit("track-1", bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	c.Remove("track-1")
	_, ok := c.Lookup("track-1")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.TotalSize())
}

// TestLRU_EvictionOrder: cap=1000, admit a(500), b(500), both fit; admit
// c(200) evicts a (oldest), total becomes 700; touch b; admit d(400)
// evicts c (now oldest), total becomes 900.
func TestLRU_EvictionOrder(t *testing.T) {
	c := newTestCache(t, 1000)

	_, err := c.Admit("a", bytes.NewReader(make([]byte, 500)))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	_, err = c.Admit("b", bytes.NewReader(make([]byte, 500)))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	assert.Equal(t, int64(1000), c.TotalSize())

	_, err = c.Admit("c", bytes.NewReader(make([]byte, 200)))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	assert.Equal(t, int64(700), c.TotalSize())
	_, ok := c.Lookup("a")
	assert.False(t, ok, "a should have been evicted as the oldest entry")

	// touch b so it is no longer the oldest remaining entry
	f, ok := c.Lookup("b")
	require.True(t, ok)
	f.Close()
	time.Sleep(2 * time.Millisecond)

	_, err = c.Admit("d", bytes.NewReader(make([]byte, 400)))
	require.NoError(t, err)

	assert.Equal(t, int64(900), c.TotalSize())
	_, ok = c.Lookup("c")
	assert.False(t, ok, "c should have been evicted as the new oldest entry")
	_, ok = c.Lookup("b")
	assert.True(t, ok, "b was touched and should survive")
	_, ok = c.Lookup("d")
	assert.True(t, ok)
}

func TestLRU_RescanAfterRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	c1, err := Open(fs, "/cache", 1<<20, slog.Default())
	require.NoError(t, err)

	_, err = c1.Admit("track-1", bytes.NewReader([]byte("persisted")))
	require.NoError(t, err)

	// A fresh cache over the same tree finds the file again under the
	// same id.
	c2, err := Open(fs, "/cache", 1<<20, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, c2.ItemCount())
	assert.Equal(t, int64(len("persisted")), c2.TotalSize())

	f, ok := c2.Lookup("track-1")
	require.True(t, ok)
	defer f.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)
	assert.Equal(t, "persisted", buf.String())
}

func TestLRU_ItemCount(t *testing.T) {
	c := newTestCache(t, 1<<20)
	_, err := c.Admit("a", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	_, err = c.Admit("b", bytes.NewReader([]byte("y")))
	require.NoError(t, err)
	assert.Equal(t, 2, c.ItemCount())
}
