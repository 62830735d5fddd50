// Package fetch implements the HTTP range-fetch worker: one worker
// performs exactly one CDN range request and streams its body back to
// the download coordinator, which is the sole writer of the underlying
// temp file. Latency is sampled only when the worker is the sole
// in-flight request for its file, so concurrent transfers cannot skew
// the ping estimate.
package fetch

import (
	"context"
	"io"
	"time"

	"github.com/resonantlabs/streamcache/internal/cdn"
	"github.com/resonantlabs/streamcache/internal/rangeset"
	"github.com/resonantlabs/streamcache/internal/streamerr"
)

// chunkBufSize bounds how much of the response body is read per Read
// call; it does not bound the overall request size.
const chunkBufSize = 32 * 1024

// Result is what Run reports once the worker has finished, successfully
// or not. The worker never writes to the temp file itself; the
// coordinator applies every Chunk to the file, in order, as it arrives.
type Result struct {
	// Requested is the sub-range this worker was dispatched for.
	Requested rangeset.Range
	// Received is how many bytes actually arrived before Run returned.
	Received int64
	// Latency is the time-to-first-byte, valid only if Solo was true and
	// at least one chunk arrived. Zero otherwise.
	Latency time.Duration
	// HasLatency reports whether Latency was actually measured.
	HasLatency bool
	// Err is non-nil if the request failed outright (non-206, transport
	// error). A short read that simply ran out of body with no error is
	// not itself an Err; Received < Requested.Length() signals that case
	// to the caller, which reclaims the un-received tail.
	Err error
}

// ChunkFunc is invoked once per body chunk read, strictly in offset order.
type ChunkFunc func(offset int64, data []byte)

// Worker performs one bounded HTTP range request against a per-file CDN
// URL and reports progress through callbacks rather than owning any
// shared file state itself; the coordinator owns decoding the reported
// progress into its requested/downloaded range sets.
type Worker struct {
	Client  cdn.Client
	CDNURL  string
	FileID  string
	Range   rangeset.Range
	Solo    bool // true if this is the only in-flight worker for the file at dispatch time
	OnChunk ChunkFunc
}

// Run performs the request and streams the response body through OnChunk.
// It never retries internally (see the coordinator's retrier for explicit
// Fetch dispatches, which applies bounded backoff across separate
// Worker.Run calls instead).
func (w *Worker) Run(ctx context.Context) Result {
	res := Result{Requested: w.Range}

	start := time.Now()
	resp, err := w.Client.Stream(ctx, w.CDNURL, w.Range.Start, w.Range.Length())
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	buf := make([]byte, chunkBufSize)
	offset := w.Range.Start
	firstChunk := true

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if w.Solo && firstChunk {
				res.Latency = clampPing(time.Since(start))
				res.HasLatency = true
			}
			firstChunk = false

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if w.OnChunk != nil {
				w.OnChunk(offset, chunk)
			}
			offset += int64(n)
			res.Received += int64(n)
		}
		if readErr != nil {
			if readErr != io.EOF {
				res.Err = streamerr.New(streamerr.KindAborted, "fetch.Run", readErr)
			}
			break
		}
	}

	if res.Received == 0 && res.Err == nil {
		res.Err = streamerr.EmptyStream("fetch.Run")
	}

	return res
}

// clampPing bounds a measured latency to MaxPing so a single outlier
// sample cannot push the coordinator's ping estimate to an absurd value;
// the coordinator still applies its own median-of-3 smoothing on top.
func clampPing(d time.Duration) time.Duration {
	const maxPing = 1500 * time.Millisecond
	if d > maxPing {
		return maxPing
	}
	return d
}
