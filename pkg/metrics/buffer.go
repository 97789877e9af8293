package metrics

import (
	"sync/atomic"
)

// latencyRing is a bounded, lock-free ring buffer of latency samples. Writers
// claim a slot with an atomic position counter; once the ring is full the
// oldest samples are overwritten, so the buffer self-trims and never grows.
type latencyRing struct {
	samples []float64
	pos     int64 // atomic position counter
	size    int64
}

func newLatencyRing(size int) *latencyRing {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &latencyRing{
		samples: make([]float64, size),
		size:    int64(size),
	}
}

// Add records one latency sample, overwriting the oldest slot when full.
func (b *latencyRing) Add(durationMs float64) {
	pos := atomic.AddInt64(&b.pos, 1) - 1
	idx := pos % b.size

	b.samples[idx] = durationMs
}

// Snapshot returns a copy of the recorded samples, most recent last. Only
// slots that have actually been written are returned.
func (b *latencyRing) Snapshot() []float64 {
	pos := atomic.LoadInt64(&b.pos)

	n := pos
	if n > b.size {
		n = b.size
	}

	if n == 0 {
		return nil
	}

	out := make([]float64, n)

	for i := int64(0); i < n; i++ {
		idx := (pos - n + i + b.size) % b.size
		out[i] = b.samples[idx]
	}

	return out
}

// Len reports how many samples are currently held.
func (b *latencyRing) Len() int {
	pos := atomic.LoadInt64(&b.pos)
	if pos > b.size {
		return int(b.size)
	}

	return int(pos)
}
