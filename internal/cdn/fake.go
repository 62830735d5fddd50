package cdn

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/resonantlabs/streamcache/internal/streamerr"
)

// FakeClient is an in-memory Client used by coordinator and fetch worker
// tests in place of a real network dependency.
type FakeClient struct {
	mu sync.Mutex

	// Content is the full backing bytes for every resolved file id.
	Content []byte
	// Latency is injected as the simulated round trip before each
	// response's first byte.
	Latency time.Duration
	// FailRanges lists half-open byte ranges that should fail with the
	// given HTTP status the next time they are requested (one-shot: each
	// matching request consumes one entry).
	FailRanges []FakeFailure
	// Rate is returned by DownloadRateEstimate.
	Rate float64

	requestLog []FakeRequest
}

// FakeFailure declares that a request overlapping [Start, End) should fail
// with Status once.
type FakeFailure struct {
	Start, End int64
	Status     int
}

// FakeRequest records one Stream call for assertions.
type FakeRequest struct {
	Offset, Length int64
}

func NewFakeClient(content []byte) *FakeClient {
	return &FakeClient{Content: content}
}

func (f *FakeClient) ResolveAudio(_ context.Context, fileID string) (string, error) {
	return "fake://" + fileID, nil
}

func (f *FakeClient) Stream(ctx context.Context, _ string, offset, length int64) (*RangeResponse, error) {
	f.mu.Lock()
	f.requestLog = append(f.requestLog, FakeRequest{Offset: offset, Length: length})

	for i, fail := range f.FailRanges {
		if offset < fail.End && offset+length > fail.Start {
			f.FailRanges = append(f.FailRanges[:i:i], f.FailRanges[i+1:]...)
			f.mu.Unlock()
			return nil, streamerr.HTTPStatus("cdn.Stream", fail.Status)
		}
	}

	total := int64(len(f.Content))
	end := offset + length
	if end > total {
		end = total
	}
	if offset > total {
		offset = total
	}
	body := append([]byte(nil), f.Content[offset:end]...)
	latency := f.Latency
	f.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, streamerr.New(streamerr.KindAborted, "cdn.Stream", ctx.Err())
	}

	return &RangeResponse{
		Body:      io.NopCloser(newSliceReader(body)),
		TotalSize: total,
		Latency:   latency,
	}, nil
}

func (f *FakeClient) DownloadRateEstimate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Rate
}

// Requests returns a snapshot of every Stream call observed so far.
func (f *FakeClient) Requests() []FakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeRequest, len(f.requestLog))
	copy(out, f.requestLog)
	return out
}

// sliceReader is a minimal io.Reader over a byte slice that hands back
// short reads in small chunks, the same way a real HTTP body streams in
// pieces rather than all at once, so chunked-consumption code paths get
// exercised by tests built on this fake.
type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(data []byte) *sliceReader {
	return &sliceReader{data: data}
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	const chunk = 8 * 1024
	n := len(p)
	if n > chunk {
		n = chunk
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}
