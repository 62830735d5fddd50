package coordinator

import (
	"sync"
	"time"

	"github.com/resonantlabs/streamcache/internal/rangeset"
	"go.uber.org/atomic"
)

// Strategy affects how much read-ahead a reader requests and whether the
// coordinator issues background prefetch beyond an explicit request.
type Strategy int

const (
	Streaming Strategy = iota
	RandomAccess
)

func (s Strategy) String() string {
	if s == RandomAccess {
		return "random_access"
	}
	return "streaming"
}

// downloadStatus is the mutex-protected pair of range sets tracking what
// has been dispatched to a worker (Requested) versus what has actually
// landed on disk (Downloaded). Downloaded ⊆ Requested is maintained by
// every mutator in this file. Additions happen on the coordinator side
// (StartInitial, dispatch, landed chunks); a worker goroutine only
// reclaims the unfulfilled tail of its own range from Requested.
type downloadStatus struct {
	mu         sync.RWMutex
	requested  *rangeset.Set
	downloaded *rangeset.Set
}

func newDownloadStatus() *downloadStatus {
	return &downloadStatus{requested: rangeset.New(), downloaded: rangeset.New()}
}

func (d *downloadStatus) snapshot() (requested, downloaded *rangeset.Set) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.requested.Clone(), d.downloaded.Clone()
}

func (d *downloadStatus) addRequested(r rangeset.Range) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requested.Add(r)
}

func (d *downloadStatus) addDownloaded(r rangeset.Range) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.downloaded.Add(r)
	d.requested.Add(r) // a byte on disk is definitionally requested too
}

func (d *downloadStatus) reclaim(r rangeset.Range) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requested.Subtract(r)
}

func (d *downloadStatus) containedLengthFrom(value int64) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.downloaded.ContainedLengthFrom(value)
}

func (d *downloadStatus) downloadedTotal() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.downloaded.TotalLength()
}

// SharedFileState is the per-streamed-file state jointly owned by the
// coordinator, the reader handle, and every live fetch worker. Only
// the coordinator goroutine mutates download_status, strategy, the write
// handle, or spawns workers; workers touch the atomics below, send
// messages, and on a short or failed transfer reclaim their unfulfilled
// tail from requested.
type SharedFileState struct {
	FileID         string
	FileSize       int64
	BytesPerSecond float64

	status *downloadStatus

	strategyMu sync.RWMutex
	strategy   Strategy

	OpenRequests atomic.Int32
	PingMs       atomic.Int64
	ReadPosition atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond

	closed atomic.Bool
}

// NewSharedFileState constructs state for a newly opened streaming file.
func NewSharedFileState(fileID string, fileSize int64, bytesPerSecond float64, initialPing time.Duration) *SharedFileState {
	s := &SharedFileState{
		FileID:         fileID,
		FileSize:       fileSize,
		BytesPerSecond: bytesPerSecond,
		status:         newDownloadStatus(),
	}
	s.cond = sync.NewCond(&s.mu)
	s.PingMs.Store(initialPing.Milliseconds())
	return s
}

// Strategy returns the current strategy.
func (s *SharedFileState) Strategy() Strategy {
	s.strategyMu.RLock()
	defer s.strategyMu.RUnlock()
	return s.strategy
}

// SetStrategy updates the strategy. Idempotent: setting the same value
// twice is equivalent to setting it once.
func (s *SharedFileState) SetStrategy(strat Strategy) {
	s.strategyMu.Lock()
	s.strategy = strat
	s.strategyMu.Unlock()
}

// WaitOnce blocks on the shared condition variable for at most timeout,
// then returns so the caller can re-check whatever condition it is
// waiting for. A platform timed wait is built from sync.Cond by arming a
// timer that broadcasts on expiry: the wait may also
// return earlier, woken by a real Signal or spuriously by an unrelated
// Broadcast, which is why callers always loop on their own condition and
// their own deadline rather than trusting a single WaitOnce call.
func (s *SharedFileState) WaitOnce(timeout time.Duration) {
	s.mu.Lock()
	// Arm the timer while holding mu: its broadcast cannot run until
	// Wait has released the lock, so the wakeup cannot be missed even
	// when timeout has already elapsed.
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	s.cond.Wait()
	s.mu.Unlock()
	timer.Stop()
}

// Signal wakes every goroutine blocked in Wait. Called by the coordinator
// strictly after mutating Downloaded, or by a worker after it reclaims an
// unfulfilled tail of Requested.
func (s *SharedFileState) Signal() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close marks the state closed; Wait callers still block until their
// timeout or the next Signal. The flag alone does not wake waiters —
// Close always pairs with a Signal at the call site.
func (s *SharedFileState) Close() {
	s.closed.Store(true)
}

func (s *SharedFileState) Closed() bool {
	return s.closed.Load()
}
