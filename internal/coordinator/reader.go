package coordinator

import (
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/resonantlabs/streamcache/internal/rangeset"
	"github.com/resonantlabs/streamcache/internal/streamerr"
)

// Reader is the blocking read/seek façade over a streaming file. It
// implements io.ReaderAt, io.Seeker, and io.Closer so it composes with any
// decoder collaborator shaped for the standard library, plus a small
// supervisory surface consumed by upstream seek-ahead logic. It is meant
// to be called from a dedicated decoder goroutine: reads block on the
// shared condition variable until the coordinator has landed the bytes
// under the cursor, bounded by the configured download timeout.
type Reader struct {
	state       *SharedFileState
	coordinator *Coordinator
	file        afero.File
	cfg         Config

	mu     sync.Mutex
	cursor int64
	closed bool
}

var (
	_ io.ReaderAt = (*Reader)(nil)
	_ io.Seeker   = (*Reader)(nil)
	_ io.Closer   = (*Reader)(nil)
)

// NewReader builds a Reader bound to file (an independent read descriptor
// onto the coordinator's temp file) and coordinator's shared state.
func NewReader(state *SharedFileState, coordinator *Coordinator, file afero.File, cfg Config) *Reader {
	return &Reader{state: state, coordinator: coordinator, file: file, cfg: cfg}
}

// Len returns the total file size.
func (r *Reader) Len() int64 { return r.state.FileSize }

// PingMs returns the coordinator's current round-trip estimate.
func (r *Reader) PingMs() int64 { return r.state.PingMs.Load() }

// RangeAvailable reports whether rng is fully covered by downloaded data,
// a pure query with no side effects.
func (r *Reader) RangeAvailable(rng rangeset.Range) bool {
	avail := r.state.status.containedLengthFrom(rng.Start)
	return avail >= rng.Length()
}

// RangeToEndAvailable reports whether everything from the current cursor
// to end of file has already landed on disk.
func (r *Reader) RangeToEndAvailable() bool {
	r.mu.Lock()
	cursor := r.cursor
	r.mu.Unlock()
	return r.state.status.containedLengthFrom(cursor) >= r.state.FileSize-cursor
}

// Fetch issues a non-blocking request that rng eventually be downloaded.
func (r *Reader) Fetch(rng rangeset.Range) {
	r.coordinator.SendFetch(rng)
}

// FetchBlocking issues Fetch and waits until rng is fully downloaded or a
// single DownloadTimeout deadline, armed when the call starts, expires.
func (r *Reader) FetchBlocking(rng rangeset.Range) error {
	r.coordinator.SendFetch(rng)
	deadline := time.Now().Add(r.cfg.DownloadTimeout)
	for r.state.status.containedLengthFrom(rng.Start) < rng.Length() {
		if time.Now().After(deadline) {
			return streamerr.WaitTimeout("reader.FetchBlocking")
		}
		r.state.WaitOnce(time.Until(deadline))
	}
	return nil
}

// SetStrategy updates the coordinator's prefetch/read-ahead strategy.
func (r *Reader) SetStrategy(s Strategy) {
	r.coordinator.SendSetStrategy(s)
}

// Close releases the reader's file descriptor and tells the coordinator
// to stop accepting new commands and exit, cancelling in-flight workers.
// The opener removes the temp file as soon as the coordinator has exited;
// it does not wait for this handle to be closed.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.coordinator.SendClose()
	return r.file.Close()
}

// Seek adjusts the cursor and publishes it as a read-position hint; it
// never issues a fetch by itself. A subsequent Read or ReadAt handles
// demand.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.cursor + offset
	case io.SeekEnd:
		newPos = r.state.FileSize + offset
	default:
		return 0, streamerr.New(streamerr.KindAborted, "reader.Seek", io.ErrUnexpectedEOF)
	}
	if newPos < 0 {
		return 0, streamerr.New(streamerr.KindAborted, "reader.Seek", io.ErrUnexpectedEOF)
	}

	r.cursor = newPos
	r.state.ReadPosition.Store(newPos)
	return newPos, nil
}

// Read reads into p starting at the current cursor and advances it,
// matching io.Reader via the same demand-fetch-then-block path as ReadAt.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	cursor := r.cursor
	r.mu.Unlock()

	n, err := r.readAt(p, cursor)

	r.mu.Lock()
	r.cursor += int64(n)
	newPos := r.cursor
	r.mu.Unlock()
	r.state.ReadPosition.Store(newPos)

	return n, err
}

// ReadAt implements io.ReaderAt: at off, determine want = min(len(p),
// file_size - off), compute the strategy-extended fetch length, issue one
// Fetch per still-missing sub-range, block until off is covered (or time
// out), then copy min(want, avail) bytes and return.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.readAt(p, off)
}

func (r *Reader) readAt(p []byte, off int64) (int, error) {
	if off >= r.state.FileSize {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > r.state.FileSize {
		want = r.state.FileSize - off
	}
	if want <= 0 {
		return 0, nil
	}

	r.state.ReadPosition.Store(off)

	fetchRange := rangeset.Range{Start: off, End: off + want}
	if r.state.Strategy() == Streaming {
		fetchRange.End = off + want + r.streamingExtra()
		if fetchRange.End > r.state.FileSize {
			fetchRange.End = r.state.FileSize
		}
	}

	requested, downloaded := r.state.status.snapshot()
	have := requested.Union(downloaded)
	for _, sub := range have.FindMissing(fetchRange.Start, fetchRange.End) {
		r.coordinator.SendFetch(sub)
	}

	deadline := time.Now().Add(r.cfg.DownloadTimeout)
	for !downloaded.Contains(off) {
		if r.state.Closed() {
			// Re-check live state: the coordinator also exits on normal
			// completion, moments after the last bytes landed.
			if r.state.status.containedLengthFrom(off) > 0 {
				break
			}
			return 0, streamerr.New(streamerr.KindAborted, "reader.Read", nil)
		}
		if time.Now().After(deadline) {
			return 0, streamerr.WaitTimeout("reader.Read")
		}
		r.state.WaitOnce(time.Until(deadline))
		_, downloaded = r.state.status.snapshot()
	}

	avail := r.state.status.containedLengthFrom(off)
	toRead := want
	if avail < toRead {
		toRead = avail
	}

	n, err := r.file.ReadAt(p[:toRead], off)
	if err != nil && err != io.EOF {
		return n, streamerr.OutputLost("reader.Read", err)
	}
	return n, nil
}

// streamingExtra computes the streaming-mode read-ahead extension applied
// on top of a reader's immediate want.
func (r *Reader) streamingExtra() int64 {
	secs := r.cfg.ReadAheadSecsPlaying.Seconds() * r.state.BytesPerSecond
	pingSecs := float64(r.state.PingMs.Load()) / 1000.0
	roundtrips := r.cfg.ReadAheadRoundtripsPlaying * pingSecs * r.state.BytesPerSecond
	if roundtrips > secs {
		return int64(roundtrips)
	}
	return int64(secs)
}
