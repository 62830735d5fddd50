package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/resonantlabs/streamcache/internal/cdn"
	"github.com/resonantlabs/streamcache/internal/filecache"
	"github.com/resonantlabs/streamcache/internal/rangeset"
	"github.com/resonantlabs/streamcache/internal/ratemeter"
	"github.com/resonantlabs/streamcache/internal/streamerr"
)

// File is the handle the opener returns: a blocking byte source over one
// audio file, plus the supervisory surface upstream seek-ahead logic uses.
// Both the streaming Reader and the cache-hit CachedFile satisfy it.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer

	Len() int64
	PingMs() int64
	RangeAvailable(r rangeset.Range) bool
	RangeToEndAvailable() bool
	Fetch(r rangeset.Range)
	FetchBlocking(r rangeset.Range) error
	SetStrategy(s Strategy)
}

// CachedFile serves a fully-downloaded file straight from the on-disk
// cache. Every range query answers trivially and the fetch surface is a
// no-op: there is nothing left to download.
type CachedFile struct {
	file afero.File
	size int64
}

var _ File = (*CachedFile)(nil)

// NewCachedFile wraps an open cache read handle of the given size.
func NewCachedFile(file afero.File, size int64) *CachedFile {
	return &CachedFile{file: file, size: size}
}

func (c *CachedFile) Read(p []byte) (int, error)                { return c.file.Read(p) }
func (c *CachedFile) ReadAt(p []byte, off int64) (int, error)   { return c.file.ReadAt(p, off) }
func (c *CachedFile) Seek(off int64, whence int) (int64, error) { return c.file.Seek(off, whence) }
func (c *CachedFile) Close() error                              { return c.file.Close() }

func (c *CachedFile) Len() int64    { return c.size }
func (c *CachedFile) PingMs() int64 { return 0 }

func (c *CachedFile) RangeAvailable(r rangeset.Range) bool {
	return r.Start >= 0 && r.End <= c.size
}

func (c *CachedFile) RangeToEndAvailable() bool            { return true }
func (c *CachedFile) Fetch(_ rangeset.Range)               {}
func (c *CachedFile) FetchBlocking(_ rangeset.Range) error { return nil }
func (c *CachedFile) SetStrategy(_ Strategy)               {}

// Opener opens audio files: a cache hit is served from the on-disk LRU, a
// miss spins up a coordinator and returns a streaming Reader bound to its
// temp file. One Opener serves a whole process.
type Opener struct {
	cache   *filecache.LRU
	client  cdn.Client
	cfg     Config
	fs      afero.Fs
	tempDir string
	rate    *ratemeter.Meter
	logger  *slog.Logger

	// resolve deduplicates concurrent CDN URL resolutions for the same
	// file id; the URLs are short-lived but identical within one burst
	// of opens.
	resolve singleflight.Group
}

// NewOpener wires an Opener. cache may be nil to disable the on-disk LRU
// entirely (every open streams).
func NewOpener(cache *filecache.LRU, client cdn.Client, cfg Config, fsys afero.Fs, tempDir string, rate *ratemeter.Meter, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{
		cache:   cache,
		client:  client,
		cfg:     cfg,
		fs:      fsys,
		tempDir: tempDir,
		rate:    rate,
		logger:  logger,
	}
}

// Open returns a File for fileID. nominalBps is the file's fixed bitrate,
// used for time-based range sizing until a real download-rate estimate
// exists. playFromBeginning widens the initial download window to cover
// the first seconds of playback.
func (o *Opener) Open(ctx context.Context, fileID string, nominalBps float64, playFromBeginning bool) (File, error) {
	if o.cache != nil {
		if f, ok := o.cache.Lookup(fileID); ok {
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("coordinator: stat cached file %s: %w", fileID, err)
			}
			o.logger.DebugContext(ctx, "serving file from cache", "file_id", fileID, "size", info.Size())
			return NewCachedFile(f, info.Size()), nil
		}
	}

	openID := uuid.NewString()
	logger := o.logger.With("file_id", fileID, "open_id", openID)

	urlVal, err, _ := o.resolve.Do(fileID, func() (interface{}, error) {
		return o.client.ResolveAudio(ctx, fileID)
	})
	if err != nil {
		return nil, streamerr.New(streamerr.KindUnavailable, "coordinator.Open", err)
	}
	cdnURL := urlVal.(string)

	initialSize := o.cfg.InitialDownloadSize(nominalBps, playFromBeginning)
	resp, err := o.client.Stream(ctx, cdnURL, 0, initialSize)
	if err != nil {
		return nil, err
	}
	if resp.TotalSize <= 0 {
		resp.Body.Close()
		return nil, streamerr.MissingHeader("coordinator.Open", "Content-Range")
	}
	fileSize := resp.TotalSize

	if err := o.fs.MkdirAll(o.tempDir, 0o755); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("coordinator: create temp dir: %w", err)
	}
	writer, err := afero.TempFile(o.fs, o.tempDir, "stream-*.tmp")
	if err != nil {
		resp.Body.Close()
		return nil, streamerr.OutputLost("coordinator.Open", err)
	}
	tempPath := writer.Name()

	readFD, err := o.fs.Open(tempPath)
	if err != nil {
		writer.Close()
		resp.Body.Close()
		_ = o.fs.Remove(tempPath)
		return nil, streamerr.OutputLost("coordinator.Open", err)
	}

	state := NewSharedFileState(fileID, fileSize, nominalBps, o.cfg.InitialPingEstimate)

	onComplete := func(st *SharedFileState, tempFile afero.File, _ string) {
		if o.cache == nil {
			return
		}
		path, admitErr := o.cache.Admit(st.FileID, tempFile)
		if admitErr != nil {
			logger.Warn("cache admission failed", "error", admitErr)
			return
		}
		logger.Info("file download complete, admitted to cache", "path", path, "size", st.FileSize)
	}

	coord := New(ctx, state, o.cfg, o.client, cdnURL, o.fs, writer, tempPath, o.rate, logger, onComplete)

	initialEnd := initialSize
	if initialEnd > fileSize {
		initialEnd = fileSize
	}
	coord.StartInitial(resp, rangeset.Range{Start: 0, End: initialEnd})
	go coord.Run()

	// The finished (or abandoned) temp file has either been copied into
	// the cache by onComplete or is no longer wanted; either way its name
	// can go as soon as the coordinator exits. The reader keeps its own
	// descriptor open for as long as it needs.
	go func() {
		<-coord.Done()
		_ = o.fs.Remove(tempPath)
	}()

	logger.Debug("streaming file opened",
		"size", fileSize,
		"initial_window", initialEnd,
		"nominal_bps", nominalBps,
		"first_byte_ms", resp.Latency.Milliseconds())

	return NewReader(state, coord, readFD, o.cfg), nil
}

// WarmTimeout bounds how long Warm waits for one file to finish.
const WarmTimeout = 10 * time.Minute

// Warm downloads fileID end to end and admits it into the cache without
// returning a handle to the caller. Used by the CLI to pre-populate the
// cache.
func (o *Opener) Warm(ctx context.Context, fileID string, nominalBps float64) error {
	f, err := o.Open(ctx, fileID, nominalBps, false)
	if err != nil {
		return err
	}
	defer f.Close()

	if f.RangeToEndAvailable() {
		return nil
	}
	f.SetStrategy(Streaming)
	f.Fetch(rangeset.Range{Start: 0, End: f.Len()})

	deadline := time.Now().Add(WarmTimeout)
	for !f.RangeToEndAvailable() {
		if time.Now().After(deadline) {
			return streamerr.WaitTimeout("coordinator.Warm")
		}
		if err := ctx.Err(); err != nil {
			return streamerr.New(streamerr.KindAborted, "coordinator.Warm", err)
		}
		if err := f.FetchBlocking(rangeset.Range{Start: 0, End: f.Len()}); err != nil && !streamerr.Is(err, streamerr.KindDeadlineExceeded) {
			return err
		}
	}
	return nil
}
