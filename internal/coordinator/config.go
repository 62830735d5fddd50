package coordinator

import "time"

// Config carries every tunable the coordinator consults. It is a plain
// value handed down at construction time rather than a set of process
// globals at runtime, which keeps behavior deterministic under test with
// arbitrary parameters. A live config reload only affects the Config captured by
// coordinators constructed afterward; it never mutates one already
// running.
type Config struct {
	// MinBlock is the minimum size of any single fetch, and also the
	// initial download prefix size requested by the opener.
	MinBlock int64
	// InitialPingEstimate seeds ping_ms before any worker has reported a
	// real latency sample.
	InitialPingEstimate time.Duration
	// MaxPing clamps any latency sample.
	MaxPing time.Duration
	// ReadAheadSecs/ReadAheadRoundtrips are read in one of two states:
	// Playing (already streaming) or PrePlay (before playback begins).
	ReadAheadSecsPlaying       time.Duration
	ReadAheadSecsPrePlay       time.Duration
	ReadAheadRoundtripsPlaying float64
	ReadAheadRoundtripsPrePlay float64
	// PrefetchFactor/FastPrefetchFactor size the Streaming-mode prefetch
	// shortfall against nominal and measured bitrate respectively.
	PrefetchFactor     float64
	FastPrefetchFactor float64
	// MaxPrefetchRequests caps background prefetch: top-up workers start
	// only while fewer than this many workers are in flight. Workers
	// dispatched for an explicit Fetch start regardless of this cap.
	MaxPrefetchRequests int
	// DownloadTimeout bounds how long a reader wait blocks before
	// returning a deadline-exceeded error.
	DownloadTimeout time.Duration
}

// DefaultConfig returns the documented tunable defaults.
func DefaultConfig() Config {
	return Config{
		MinBlock:                   128 * 1024,
		InitialPingEstimate:        500 * time.Millisecond,
		MaxPing:                    1500 * time.Millisecond,
		ReadAheadSecsPlaying:       5 * time.Second,
		ReadAheadSecsPrePlay:       1 * time.Second,
		ReadAheadRoundtripsPlaying: 10,
		ReadAheadRoundtripsPrePlay: 2,
		PrefetchFactor:             4.0,
		FastPrefetchFactor:         1.5,
		MaxPrefetchRequests:        4,
		DownloadTimeout:            1 * time.Second,
	}
}

// InitialDownloadSize computes the opener's first range request length.
// Playback has not started yet at open time, so the pre-play read-ahead
// constants apply. If playFromBeginning is false, the caller is about to
// seek elsewhere and only needs the minimum prefix to learn the file
// size.
func (c Config) InitialDownloadSize(nominalBps float64, playFromBeginning bool) int64 {
	if !playFromBeginning {
		return c.MinBlock
	}
	bySeconds := c.ReadAheadSecsPrePlay.Seconds() * nominalBps
	byRoundtrips := c.InitialPingEstimate.Seconds() * c.ReadAheadRoundtripsPrePlay * nominalBps
	extra := bySeconds
	if byRoundtrips > extra {
		extra = byRoundtrips
	}
	return c.MinBlock + int64(extra)
}
