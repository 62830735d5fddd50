package coordinator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonantlabs/streamcache/internal/cdn"
	"github.com/resonantlabs/streamcache/internal/rangeset"
	"github.com/resonantlabs/streamcache/internal/streamerr"
)

const testBps = 40 * 1024 // nominal 40 KiB/s

func testContent(size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testStream struct {
	fake   *cdn.FakeClient
	state  *SharedFileState
	coord  *Coordinator
	reader *Reader
}

func newTestStream(t *testing.T, content []byte, cfg Config, strat Strategy) *testStream {
	t.Helper()

	fake := cdn.NewFakeClient(content)
	fs := afero.NewMemMapFs()

	writer, err := afero.TempFile(fs, "", "stream-*.tmp")
	require.NoError(t, err)
	readFD, err := fs.Open(writer.Name())
	require.NoError(t, err)

	state := NewSharedFileState("test-file", int64(len(content)), testBps, cfg.InitialPingEstimate)
	state.SetStrategy(strat)

	coord := New(context.Background(), state, cfg, fake, "fake://test-file", fs, writer, writer.Name(), nil, discardLogger(), nil)
	go coord.Run()

	reader := NewReader(state, coord, readFD, cfg)
	t.Cleanup(func() { _ = reader.Close() })

	return &testStream{fake: fake, state: state, coord: coord, reader: reader}
}

func TestCoordinator_SequentialRead(t *testing.T) {
	content := testContent(400 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), Streaming)

	buf := make([]byte, 4096)
	n, err := ts.reader.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, content[:4096], buf)

	// The first dispatched fetch is at least a full block, extended by
	// streaming read-ahead.
	reqs := ts.fake.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, int64(0), reqs[0].Offset)
	assert.GreaterOrEqual(t, reqs[0].Length, int64(128*1024))

	// The returned bytes are durable: downloaded covers them.
	assert.GreaterOrEqual(t, ts.state.status.containedLengthFrom(0), int64(4096))
}

func TestCoordinator_SeekAndRead(t *testing.T) {
	content := testContent(400 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), Streaming)

	// Prime the stream from the start, then jump.
	buf := make([]byte, 4096)
	_, err := ts.reader.ReadAt(buf, 0)
	require.NoError(t, err)

	pos, err := ts.reader.Seek(300*1024, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(300*1024), pos)

	small := make([]byte, 1024)
	n, err := ts.reader.Read(small)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	assert.Equal(t, content[300*1024:300*1024+1024], small)
	assert.Equal(t, int64(300*1024+1024), ts.state.ReadPosition.Load())
}

func TestCoordinator_WorkerFailureAndRetry(t *testing.T) {
	content := testContent(400 * 1024)
	cfg := DefaultConfig()

	ts := newTestStream(t, content, cfg, RandomAccess)

	// Four one-shot failures: the first dispatch makes four attempts (one
	// try plus three backed-off retries) and consumes all of them, so the
	// caller's second attempt succeeds on its first try.
	failing := cdn.FakeFailure{Start: 128 * 1024, End: 256 * 1024, Status: 503}
	ts.fake.FailRanges = []cdn.FakeFailure{failing, failing, failing, failing}

	buf := make([]byte, 1024)
	_, err := ts.reader.ReadAt(buf, 200*1024)
	require.Error(t, err)
	assert.True(t, streamerr.Is(err, streamerr.KindDeadlineExceeded))

	// The failed dispatch reclaimed its sub-range from requested.
	requested, _ := ts.state.status.snapshot()
	assert.False(t, requested.Contains(200*1024))

	// The caller's retry dispatches a fresh worker, which succeeds.
	n, err := ts.reader.ReadAt(buf, 200*1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	assert.Equal(t, content[200*1024:200*1024+1024], buf)
}

func TestCoordinator_DownloadedSubsetOfRequested(t *testing.T) {
	content := testContent(256 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), Streaming)

	buf := make([]byte, 8192)
	_, err := ts.reader.ReadAt(buf, 0)
	require.NoError(t, err)

	requested, downloaded := ts.state.status.snapshot()
	assert.True(t, downloaded.Difference(requested).IsEmpty(),
		"downloaded must always be a subset of requested")
}

func TestCoordinator_CompletionReachesEndOfFile(t *testing.T) {
	content := testContent(256 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), Streaming)

	// A real round trip keeps the ping estimate above zero, which is what
	// sizes the prefetch shortfall that drives the file to completion.
	ts.fake.Latency = 10 * time.Millisecond

	buf := make([]byte, 4096)
	_, err := ts.reader.ReadAt(buf, 0)
	require.NoError(t, err)

	// Streaming prefetch keeps topping up until the whole file has
	// landed and the coordinator exits.
	select {
	case <-ts.coord.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not finish downloading the file")
	}
	assert.GreaterOrEqual(t, ts.state.status.containedLengthFrom(0), int64(len(content)))
	assert.True(t, ts.reader.RangeToEndAvailable())
}

func TestCoordinator_MaxConcurrentWorkers(t *testing.T) {
	content := testContent(512 * 1024)
	cfg := DefaultConfig()
	ts := newTestStream(t, content, cfg, Streaming)

	// Slow every response down enough that concurrent workers overlap.
	ts.fake.Latency = 20 * time.Millisecond

	ts.reader.Fetch(rangeset.Range{Start: 0, End: int64(len(content))})

	deadline := time.Now().Add(5 * time.Second)
	var peak int32
	for time.Now().Before(deadline) {
		if n := ts.state.OpenRequests.Load(); n > peak {
			peak = n
		}
		if ts.state.status.containedLengthFrom(0) >= int64(len(content)) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.LessOrEqual(t, peak, int32(cfg.MaxPrefetchRequests)+1,
		"concurrent workers must stay within the prefetch cap (+1 for an explicit reader fetch in flight)")
}

func TestCoordinator_SetStrategyIdempotent(t *testing.T) {
	content := testContent(64 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), Streaming)

	ts.state.SetStrategy(RandomAccess)
	ts.state.SetStrategy(RandomAccess)
	assert.Equal(t, RandomAccess, ts.state.Strategy())
}

func TestReader_SeekWhence(t *testing.T) {
	content := testContent(100 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), RandomAccess)

	pos, err := ts.reader.Seek(1000, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), pos)

	pos, err = ts.reader.Seek(24, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), pos)

	pos, err = ts.reader.Seek(-1024, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(100*1024-1024), pos)

	_, err = ts.reader.Seek(-1, io.SeekStart)
	require.Error(t, err)
}

func TestReader_ReadPastEnd(t *testing.T) {
	content := testContent(32 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), RandomAccess)

	buf := make([]byte, 16)
	_, err := ts.reader.ReadAt(buf, int64(len(content)))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_FullReadMatchesContent(t *testing.T) {
	content := testContent(200 * 1024)
	ts := newTestStream(t, content, DefaultConfig(), Streaming)

	got, err := io.ReadAll(ts.reader)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}
