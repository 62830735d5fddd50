// Package filecache implements a size-bounded, content-addressed on-disk
// file store with access-time eviction: completed streaming files are
// admitted here once fully downloaded, and served back out on a later
// request for the same file id without touching the network.
package filecache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/spf13/afero"
)

// Entry is the bookkeeping record for one admitted file. Key is the
// file id's derived relative path, which survives restarts: a rescan of
// the directory tree reproduces the same key for the same file id.
type Entry struct {
	Key          string
	Path         string
	SizeBytes    int64
	LastAccessAt time.Time
}

// LRU is a size-bounded, content-addressed on-disk file store. Eviction
// always removes the least-recently-touched entry first; ties are broken by
// insertion order, which is exactly what the underlying access-ordered index
// already guarantees.
type LRU struct {
	mu       sync.Mutex
	fs       afero.Fs
	root     string
	capBytes int64
	used     int64
	index    *lru.LRU[string, *Entry]
	logger   *slog.Logger
}

// Open scans root for every regular file already on disk, seeds the index
// from their modification times and sizes, then evicts oldest
// modification time first until the total footprint is within capBytes.
// File access times on disk are not read.
func Open(fsys afero.Fs, root string, capBytes int64, logger *slog.Logger) (*LRU, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filecache: create root %s: %w", root, err)
	}

	c := &LRU{
		fs:       fsys,
		root:     root,
		capBytes: capBytes,
		logger:   logger,
	}

	// index has no count cap of its own; eviction is size-driven, so give
	// it an effectively unbounded capacity and evict by hand in admit().
	idx, err := lru.NewLRU[string, *Entry](1<<31-1, nil)
	if err != nil {
		return nil, fmt.Errorf("filecache: create index: %w", err)
	}
	c.index = idx

	c.scanExisting()
	c.evictUntilWithinCap()

	return c, nil
}

func (c *LRU) scanExisting() {
	type found struct {
		path       string
		size       int64
		accessedAt time.Time
	}
	var entries []found

	_ = afero.Walk(c.fs, c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		entries = append(entries, found{path: path, size: info.Size(), accessedAt: info.ModTime()})
		return nil
	})

	// Seed the index oldest-first so eviction removes stale files before
	// recently played ones, regardless of directory walk order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].accessedAt.Before(entries[j].accessedAt)
	})

	for _, e := range entries {
		key := keyFromPath(c.root, e.path)
		if key == "" {
			continue
		}
		c.index.Add(key, &Entry{Key: key, Path: e.path, SizeBytes: e.size, LastAccessAt: e.accessedAt})
		c.used += e.size
	}

	if len(entries) > 0 {
		c.logger.Info("filecache: loaded existing entries", "count", len(entries), "bytes", c.used)
	}
}

// Admit copies src's remaining content into the cache under fileID's
// content-addressed path, records its size, then evicts until the cap
// holds again. It returns the path the file was stored at.
func (c *LRU) Admit(fileID string, src io.Reader) (string, error) {
	key := cacheKey(fileID)
	path := filepath.Join(c.root, filepath.FromSlash(key))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("filecache: create fan-out dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := c.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("filecache: open temp file: %w", err)
	}

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr != nil {
		_ = c.fs.Remove(tmpPath)
		return "", fmt.Errorf("filecache: write %s: %w", fileID, copyErr)
	}
	if closeErr != nil {
		_ = c.fs.Remove(tmpPath)
		return "", fmt.Errorf("filecache: close temp file: %w", closeErr)
	}

	if err := c.fs.Rename(tmpPath, path); err != nil {
		_ = c.fs.Remove(tmpPath)
		return "", fmt.Errorf("filecache: rename into place: %w", err)
	}

	if old, ok := c.index.Get(key); ok {
		c.used -= old.SizeBytes
	}
	now := time.Now()
	c.index.Add(key, &Entry{Key: key, Path: path, SizeBytes: n, LastAccessAt: now})
	c.used += n

	c.evictUntilWithinCap()

	return path, nil
}

// Lookup returns an open read handle for fileID and touches its access time
// to now. The second return value is false on a cache miss.
func (c *LRU) Lookup(fileID string) (afero.File, bool) {
	c.mu.Lock()
	entry, ok := c.index.Get(cacheKey(fileID))
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	f, err := c.fs.Open(entry.Path)
	if err != nil {
		c.mu.Lock()
		c.removeLocked(entry.Key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.LastAccessAt = time.Now()
	c.mu.Unlock()

	return f, true
}

// Remove deletes fileID's file and bookkeeping, if present.
func (c *LRU) Remove(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(cacheKey(fileID))
}

func (c *LRU) removeLocked(key string) {
	entry, ok := c.index.Get(key)
	if !ok {
		return
	}
	if err := c.fs.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("filecache: remove failed", "key", key, "error", err)
	}
	c.index.Remove(key)
	c.used -= entry.SizeBytes
}

// TotalSize returns the current on-disk footprint tracked by the cache.
func (c *LRU) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// ItemCount returns the number of entries currently tracked.
func (c *LRU) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// evictUntilWithinCap removes the least-recently-touched entries until the
// total footprint is at or below capBytes. I/O errors during eviction are
// logged and skipped rather than aborting the caller: the cap may
// temporarily be exceeded when the filesystem refuses a deletion.
func (c *LRU) evictUntilWithinCap() {
	if c.capBytes <= 0 {
		return
	}
	for c.used > c.capBytes {
		key, entry, ok := c.index.RemoveOldest()
		if !ok {
			return
		}
		if err := c.fs.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("filecache: eviction remove failed", "key", key, "error", err)
		}
		c.used -= entry.SizeBytes
	}
}

// cacheKey returns the two-level hex fan-out relative path for fileID:
// for a hex-encoded id h0h1h2...hn, the key is h0h1/h2...hn. Opaque file
// ids are hashed first so arbitrary bytes always yield a well-formed
// path.
func cacheKey(fileID string) string {
	h := sha1.Sum([]byte(fileID))
	hexID := hex.EncodeToString(h[:])
	return hexID[:2] + "/" + hexID[2:]
}

func keyFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}
