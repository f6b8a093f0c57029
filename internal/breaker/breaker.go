// Package breaker implements a latency-based circuit breaker for the
// cleanup pipeline's AI calls. Unlike a failure-count breaker, it trips on
// sustained slow calls rather than errors, and recovers through an implicit
// half-open probe rather than a counted-success threshold.
package breaker

import (
	"sync"
	"time"
)

// Config controls breaker thresholds.
type Config struct {
	// SlowCallLimit is the number of slow calls that must be observed before
	// the breaker opens. Default: 3.
	SlowCallLimit int

	// SlowThresholdMS is the latency, in milliseconds, at or above which a
	// call counts as slow. Default: 5000.
	SlowThresholdMS int

	// ResetTimeout is how long the breaker stays open before the next
	// is_open() call resets it and admits a probe. Default: 60s.
	ResetTimeout time.Duration
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		SlowCallLimit:   3,
		SlowThresholdMS: 5000,
		ResetTimeout:    60 * time.Second,
	}
}

const ringBufferSize = 10

// Breaker is a per-instance, mutex-protected latency breaker. It must never
// be shared as a package-level singleton — each consumer owns its own.
type Breaker struct {
	cfg Config
	mu  sync.Mutex

	slowCallCount int
	isOpenState   bool
	lastOpenedAt  time.Time
	triggeringIDs []string

	nowFunc func() time.Time
}

// New creates a Breaker with the given config, filling in defaults for any
// zero-valued fields.
func New(cfg Config) *Breaker {
	if cfg.SlowCallLimit <= 0 {
		cfg.SlowCallLimit = 3
	}
	if cfg.SlowThresholdMS <= 0 {
		cfg.SlowThresholdMS = 5000
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// RecordLatency reports the outcome of one AI call. index/total/maxConcurrent
// describe the call's position within its batch and are carried only for
// logging by callers; they do not affect trip logic.
func (b *Breaker) RecordLatency(ms int, index, total int, beerID string, maxConcurrent int) {
	_, _, _ = index, total, maxConcurrent

	if ms < b.cfg.SlowThresholdMS {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.slowCallCount++
	b.triggeringIDs = append(b.triggeringIDs, beerID)
	if len(b.triggeringIDs) > ringBufferSize {
		b.triggeringIDs = b.triggeringIDs[len(b.triggeringIDs)-ringBufferSize:]
	}

	if b.slowCallCount >= b.cfg.SlowCallLimit {
		b.isOpenState = true
		b.lastOpenedAt = b.nowFunc()
	}
}

// IsOpen reports whether the breaker currently rejects AI calls. Calling it
// while open past ResetTimeout resets counters and admits one probe batch by
// returning false exactly once per reset.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isOpenState {
		return false
	}

	if b.nowFunc().Sub(b.lastOpenedAt) > b.cfg.ResetTimeout {
		b.isOpenState = false
		b.slowCallCount = 0
		b.triggeringIDs = nil
		return false
	}

	return true
}

// TriggeringIDs returns a snapshot of the beer ids from the most recent
// slow calls, oldest first, bounded to the ring buffer size.
func (b *Breaker) TriggeringIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.triggeringIDs))
	copy(out, b.triggeringIDs)
	return out
}

// SlowCallCount returns the current slow-call counter, for observability.
func (b *Breaker) SlowCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slowCallCount
}
