// Package coordinator implements the download coordinator, the reader
// handle, and the file opener: the heart of the streaming cache and
// prefetch engine. A single Coordinator goroutine per open streaming
// file owns the temp file's write handle and multiplexes control
// commands from readers with progress messages from fetch workers; all
// scheduling decisions derive from the requested and downloaded range
// sets alone.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/spf13/afero"

	"github.com/resonantlabs/streamcache/internal/cdn"
	"github.com/resonantlabs/streamcache/internal/fetch"
	"github.com/resonantlabs/streamcache/internal/rangeset"
	"github.com/resonantlabs/streamcache/internal/ratemeter"
	"github.com/resonantlabs/streamcache/internal/streamerr"
)

type cmdKind int

const (
	cmdFetch cmdKind = iota
	cmdSetStrategy
	cmdClose
)

// Command is sent on the coordinator's command channel by a reader handle
// or the opener.
type Command struct {
	Kind     cmdKind
	Range    rangeset.Range
	Strategy Strategy
}

type msgKind int

const (
	msgData msgKind = iota
	msgLatency
)

// workerMsg is sent by a fetch worker goroutine back to the coordinator.
type workerMsg struct {
	kind    msgKind
	offset  int64
	data    []byte
	latency time.Duration
}

// OnComplete is invoked once a streamed file finishes downloading, handed
// the finished temp file so the opener can admit it into the on-disk LRU
// (C2).
type OnComplete func(state *SharedFileState, tempFile afero.File, tempPath string)

// Coordinator owns one streaming file's write handle and drives its C3
// fetch workers.
type Coordinator struct {
	State  *SharedFileState
	Config Config

	client cdn.Client
	cdnURL string

	fs       afero.Fs
	writer   afero.File
	tempPath string

	rate   *ratemeter.Meter
	logger *slog.Logger

	cmdCh chan Command
	msgCh chan workerMsg

	onComplete OnComplete

	pingHistory []time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Coordinator for an already-open temp file. The caller
// (the opener, C6) is responsible for having already issued the initial
// range request and seeded SharedFileState's FileSize.
func New(
	ctx context.Context,
	state *SharedFileState,
	cfg Config,
	client cdn.Client,
	cdnURL string,
	fs afero.Fs,
	writer afero.File,
	tempPath string,
	rate *ratemeter.Meter,
	logger *slog.Logger,
	onComplete OnComplete,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		State:      state,
		Config:     cfg,
		client:     client,
		cdnURL:     cdnURL,
		fs:         fs,
		writer:     writer,
		tempPath:   tempPath,
		rate:       rate,
		logger:     logger,
		cmdCh:      make(chan Command, 16),
		msgCh:      make(chan workerMsg, 64),
		onComplete: onComplete,
		ctx:        cctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	return c
}

// Run drives the mailbox loop until Close is processed or the context is
// cancelled. Call it in its own goroutine.
func (c *Coordinator) Run() {
	defer func() {
		// Readers blocked on the condvar must learn the coordinator is
		// gone rather than spinning to their timeout.
		c.State.Close()
		c.State.Signal()
	}()
	defer close(c.done)
	defer c.writer.Close()

	for {
		select {
		case cmd, ok := <-c.cmdCh:
			if !ok {
				return
			}
			if cmd.Kind == cmdClose {
				c.cancel()
				return
			}
			c.handleCommand(cmd)
		case msg := <-c.msgCh:
			if done := c.handleMessage(msg); done {
				return
			}
		case <-c.ctx.Done():
			return
		}
		c.runPrefetchPolicy()
	}
}

// Done returns a channel closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// StartInitial consumes the opener's already-received first range
// response as if a worker had fetched it, so the open path never issues
// a redundant request for the prefix. r must be the clipped range the
// response covers.
func (c *Coordinator) StartInitial(resp *cdn.RangeResponse, r rangeset.Range) {
	c.State.status.addRequested(r)
	c.State.OpenRequests.Add(1)

	go func() {
		defer c.State.OpenRequests.Add(-1)
		defer resp.Body.Close()

		if resp.Latency > 0 {
			lat := resp.Latency
			if lat > c.Config.MaxPing {
				lat = c.Config.MaxPing
			}
			select {
			case c.msgCh <- workerMsg{kind: msgLatency, latency: lat}:
			case <-c.done:
				return
			}
		}

		buf := make([]byte, 32*1024)
		offset := r.Start
		var received int64
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case c.msgCh <- workerMsg{kind: msgData, offset: offset, data: chunk}:
				case <-c.done:
					return
				}
				offset += int64(n)
				received += int64(n)
			}
			if err != nil {
				break
			}
		}

		if c.rate != nil && received > 0 {
			c.rate.Observe(received)
		}
		if received < r.Length() {
			c.State.status.reclaim(rangeset.Range{Start: r.Start + received, End: r.End})
			c.State.Signal()
		}
	}()
}

// SendFetch asks the coordinator to ensure range is eventually downloaded.
// Non-blocking: the command is buffered on cmdCh.
func (c *Coordinator) SendFetch(r rangeset.Range) {
	select {
	case c.cmdCh <- Command{Kind: cmdFetch, Range: r}:
	case <-c.done:
	}
}

// SendSetStrategy updates the coordinator's prefetch strategy.
func (c *Coordinator) SendSetStrategy(s Strategy) {
	select {
	case c.cmdCh <- Command{Kind: cmdSetStrategy, Strategy: s}:
	case <-c.done:
	}
}

// SendClose asks the coordinator to stop accepting new commands and exit.
// Its context is cancelled, so in-flight workers abort their requests;
// Run does not wait for them to finish.
func (c *Coordinator) SendClose() {
	select {
	case c.cmdCh <- Command{Kind: cmdClose}:
	case <-c.done:
	}
}

func (c *Coordinator) handleCommand(cmd Command) {
	switch cmd.Kind {
	case cmdFetch:
		c.dispatchFetch(cmd.Range)
	case cmdSetStrategy:
		c.State.SetStrategy(cmd.Strategy)
	}
}

// dispatchFetch clips range to file bounds, expands it to MinBlock,
// subtracts what is already downloaded or in flight, and spawns one
// worker per remaining sub-range.
func (c *Coordinator) dispatchFetch(r rangeset.Range) {
	r = c.clipAndExpand(r)
	if r.Length() <= 0 {
		return
	}

	requested, downloaded := c.State.status.snapshot()
	have := requested.Union(downloaded)
	missing := have.FindMissing(r.Start, r.End)

	for _, sub := range missing {
		// Explicit Fetch commands are exactly the ones a reader re-issues
		// after a timeout or a worker failure reclaimed its tail, so they
		// are dispatched through the bounded retrier; background top-up
		// in runPrefetchPolicy is speculative and is not.
		c.spawnWorker(sub, true)
	}
}

// clipAndExpand clips r to [0, FileSize) and expands its length to at
// least MinBlock, clipped again to end of file.
func (c *Coordinator) clipAndExpand(r rangeset.Range) rangeset.Range {
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End > c.State.FileSize {
		r.End = c.State.FileSize
	}
	if r.Start >= r.End {
		return rangeset.Range{}
	}
	if r.Length() < c.Config.MinBlock {
		r.End = r.Start + c.Config.MinBlock
		if r.End > c.State.FileSize {
			r.End = c.State.FileSize
		}
	}
	return r
}

// spawnWorker dispatches one fetch worker for r. When retry is set (every
// explicit Fetch dispatch, see dispatchFetch), the worker's request is
// wrapped in a bounded, exponential-backoff retrier so a hot failing
// range cannot produce an unbounded reader-timeout / re-fetch /
// immediate-failure cycle.
func (c *Coordinator) spawnWorker(r rangeset.Range, retry bool) {
	c.State.status.addRequested(r)
	c.State.OpenRequests.Add(1)
	solo := c.State.OpenRequests.Load() == 1

	go c.runWorker(r, solo, retry)
}

func (c *Coordinator) runWorker(r rangeset.Range, solo, retry bool) {
	defer c.State.OpenRequests.Add(-1)

	var res fetch.Result
	run := func() error {
		w := &fetch.Worker{
			Client: c.client,
			CDNURL: c.cdnURL,
			FileID: c.State.FileID,
			Range:  r,
			Solo:   solo,
			OnChunk: func(offset int64, data []byte) {
				select {
				case c.msgCh <- workerMsg{kind: msgData, offset: offset, data: data}:
				case <-c.done:
				}
			},
		}
		res = w.Run(c.ctx)
		return res.Err
	}

	if retry {
		backoff := retrier.ExponentialBackoff(3, 100*time.Millisecond)
		_ = retrier.New(backoff, nil).Run(run)
	} else {
		_ = run()
	}

	if res.HasLatency {
		select {
		case c.msgCh <- workerMsg{kind: msgLatency, latency: res.Latency}:
		case <-c.done:
		}
	}

	if res.Received < r.Length() {
		// Un-fulfilled tail: reclaim it from requested and wake any
		// reader waiting on it so it can re-issue the fetch. This and
		// the matching reclaim in StartInitial are the only places a
		// worker goroutine mutates requested.
		tail := rangeset.Range{Start: r.Start + res.Received, End: r.End}
		c.State.status.reclaim(tail)
		c.State.Signal()
		if res.Err != nil {
			c.logger.WarnContext(c.ctx, "fetch worker failed",
				"file_id", c.State.FileID, "range", fmt.Sprintf("[%d,%d)", r.Start, r.End), "error", res.Err)
		}
	}

	if c.rate != nil && res.Received > 0 {
		c.rate.Observe(res.Received)
	}
}

// handleMessage applies a worker's reported progress to the shared state.
// It returns true if the file is now complete and the coordinator should
// exit.
func (c *Coordinator) handleMessage(msg workerMsg) (finished bool) {
	switch msg.kind {
	case msgLatency:
		c.recordLatency(msg.latency)
	case msgData:
		if err := c.writeChunk(msg.offset, msg.data); err != nil {
			c.logger.ErrorContext(c.ctx, "temp file write failed", "file_id", c.State.FileID, "error", err)
			return true
		}
		r := rangeset.Range{Start: msg.offset, End: msg.offset + int64(len(msg.data))}
		c.State.status.addDownloaded(r)
		c.State.Signal()

		if c.State.status.containedLengthFrom(0) >= c.State.FileSize {
			c.finalize()
			return true
		}
	}
	return false
}

func (c *Coordinator) writeChunk(offset int64, data []byte) error {
	if _, err := c.writer.Seek(offset, 0); err != nil {
		return streamerr.OutputLost("coordinator.writeChunk", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return streamerr.OutputLost("coordinator.writeChunk", err)
	}
	return nil
}

func (c *Coordinator) finalize() {
	if _, err := c.writer.Seek(0, 0); err != nil {
		c.logger.ErrorContext(c.ctx, "rewind temp file failed", "file_id", c.State.FileID, "error", err)
		return
	}
	if c.onComplete != nil {
		c.onComplete(c.State, c.writer, c.tempPath)
	}
}

// recordLatency pushes d into a bounded history of the last 3 samples and
// updates ping_ms to their median, logging when the new estimate differs
// from the old by more than 10%.
func (c *Coordinator) recordLatency(d time.Duration) {
	if d > c.Config.MaxPing {
		d = c.Config.MaxPing
	}
	c.pingHistory = append(c.pingHistory, d)
	if len(c.pingHistory) > 3 {
		c.pingHistory = c.pingHistory[len(c.pingHistory)-3:]
	}

	sorted := append([]time.Duration(nil), c.pingHistory...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]

	old := time.Duration(c.State.PingMs.Load()) * time.Millisecond
	c.State.PingMs.Store(median.Milliseconds())

	if old > 0 {
		delta := float64(median-old) / float64(old)
		if delta < 0 {
			delta = -delta
		}
		if delta > 0.10 {
			c.logger.InfoContext(c.ctx, "ping estimate shifted", "file_id", c.State.FileID, "old_ms", old.Milliseconds(), "new_ms", median.Milliseconds())
		}
	}
}

// runPrefetchPolicy implements the background prefetch top-up: when in
// Streaming mode and under the concurrent-worker cap, top up requested
// coverage toward the desired prefetch volume.
func (c *Coordinator) runPrefetchPolicy() {
	if c.State.Strategy() != Streaming {
		return
	}
	slots := c.Config.MaxPrefetchRequests - int(c.State.OpenRequests.Load())
	if slots <= 0 {
		return
	}

	requested, downloaded := c.State.status.snapshot()
	pending := requested.Difference(downloaded).TotalLength()

	pingSecs := float64(c.State.PingMs.Load()) / 1000.0
	nominal := c.Config.PrefetchFactor * pingSecs * c.State.BytesPerSecond
	measuredBps := float64(0)
	if c.rate != nil {
		measuredBps = c.rate.Estimate()
	}
	fast := c.Config.FastPrefetchFactor * pingSecs * measuredBps
	desired := nominal
	if fast > desired {
		desired = fast
	}

	if float64(pending) >= desired {
		return
	}
	bytesToGo := int64(desired - float64(pending))
	if bytesToGo <= 0 {
		return
	}

	have := requested.Union(downloaded)
	readPos := c.State.ReadPosition.Load()
	gaps := have.FindMissing(readPos, c.State.FileSize)
	if len(gaps) == 0 {
		gaps = have.FindMissing(0, c.State.FileSize)
	}

	for _, gap := range gaps {
		if slots <= 0 || bytesToGo <= 0 {
			break
		}
		g := gap
		if g.Length() > bytesToGo {
			g.End = g.Start + bytesToGo
		}
		if g.Length() <= 0 {
			continue
		}
		c.spawnWorker(g, false)
		bytesToGo -= g.Length()
		slots--
	}
}
