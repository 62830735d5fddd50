// Package ratemeter provides a rolling estimate of download throughput,
// consumed by the download coordinator when sizing its prefetch volume.
package ratemeter

import (
	"sync"
	"time"
)

const (
	// sampleInterval is how often a new windowed sample is recorded.
	sampleInterval = 1 * time.Second
	// retentionPeriod bounds how far back RateOver can look.
	retentionPeriod = 60 * time.Second
)

type sample struct {
	at    time.Time
	bytes int64
}

// Meter accumulates bytes delivered across all fetch workers for one
// process and exposes both an instantaneous rate and a longer rolling
// history, the same windowed-sample-ring shape used for metrics elsewhere
// in this codebase, generalized to serve two different readers: the
// coordinator, which only wants "now", and the diagnostics surface, which
// wants a trend.
type Meter struct {
	mu sync.Mutex

	windowStart time.Time
	windowBytes int64
	rate        float64 // bytes/sec, last completed window

	samples []sample
}

// New returns a Meter ready to record observations.
func New() *Meter {
	return &Meter{windowStart: time.Now()}
}

// Observe records n bytes delivered at the current time. When the active
// window has run for at least one second, it closes the window, updates
// the instantaneous rate estimate, and starts a new window.
func (m *Meter) Observe(n int64) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowBytes += n

	elapsed := now.Sub(m.windowStart)
	if elapsed >= sampleInterval {
		m.rate = 1000 * float64(m.windowBytes) / float64(elapsed.Milliseconds())
		m.samples = append(m.samples, sample{at: now, bytes: m.windowBytes})
		m.windowBytes = 0
		m.windowStart = now
		m.pruneLocked(now)
	}
}

// Estimate returns the instantaneous bytes/sec estimate from the most
// recently completed window. It is zero until the first window closes.
func (m *Meter) Estimate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// RateOver returns the average bytes/sec observed over the trailing
// window of the given duration, using the retained sample history. It
// returns 0 if no samples fall in range.
func (m *Meter) RateOver(window time.Duration) float64 {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(now)

	cutoff := now.Add(-window)
	var totalBytes int64
	var earliest time.Time
	found := false

	for _, s := range m.samples {
		if s.at.Before(cutoff) {
			continue
		}
		if !found {
			earliest = s.at
			found = true
		}
		totalBytes += s.bytes
	}

	if !found {
		return 0
	}
	elapsed := now.Sub(earliest)
	if elapsed <= 0 {
		return 0
	}
	return 1000 * float64(totalBytes) / float64(elapsed.Milliseconds())
}

func (m *Meter) pruneLocked(now time.Time) {
	cutoff := now.Add(-retentionPeriod)
	i := 0
	for i < len(m.samples) && m.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = m.samples[i:]
	}
}
