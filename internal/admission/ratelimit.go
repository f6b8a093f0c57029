// Package admission implements the fixed-window per-client rate limiter
// (spec.md §4.2). It is deliberately not a token bucket: each calendar
// minute is its own counter bucket, incremented atomically by the store.
package admission

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/taplist-enrich/internal/store"
)

// gcSampleRate is the probability that any given Check call also triggers a
// purge of stale rate-limit buckets.
const gcSampleRate = 0.01

// gcRetainBuckets is how many one-minute buckets are kept before a bucket is
// eligible for purge.
const gcRetainBuckets = 60

// Result is the outcome of a single admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   int64 // unix seconds the current bucket rolls over
}

// Limiter checks and records per-client request counts in fixed one-minute
// windows, keyed by an arbitrary caller-supplied string (typically
// "{client}:{endpoint}").
type Limiter struct {
	store store.Store
	now   func() time.Time
	rand  func() float64
}

// New builds a Limiter backed by s.
func New(s store.Store) *Limiter {
	return &Limiter{store: s, now: time.Now, rand: rand.Float64}
}

// Check increments the caller's bucket for the current minute and compares
// it against limitPerMinute. Store failures fail open: the request is
// allowed and a warning is logged, since an unavailable counter must never
// itself become an outage.
func (l *Limiter) Check(ctx context.Context, key string, limitPerMinute int) Result {
	bucket := currentBucket(l.now())

	count, err := l.store.IncrementRateLimit(ctx, key, bucket)
	if err != nil {
		zap.L().Warn("admission: rate limit store unavailable, failing open",
			zap.String("key", key), zap.Error(err))
		return Result{Allowed: true, Remaining: limitPerMinute, ResetAt: bucketResetAt(bucket)}
	}

	remaining := limitPerMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if l.rand() < gcSampleRate {
		l.gc(ctx, bucket)
	}

	return Result{
		Allowed:   int(count) <= limitPerMinute,
		Remaining: remaining,
		ResetAt:   bucketResetAt(bucket),
	}
}

func (l *Limiter) gc(ctx context.Context, currentBucket int64) {
	cutoff := currentBucket - gcRetainBuckets
	n, err := l.store.PurgeRateLimits(ctx, cutoff)
	if err != nil {
		zap.L().Warn("admission: rate limit gc failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Debug("admission: purged stale rate limit buckets", zap.Int("count", n))
	}
}

// currentBucket maps a time to its one-minute bucket index (unix minutes).
func currentBucket(t time.Time) int64 {
	return t.Unix() / 60
}

func bucketResetAt(bucket int64) int64 {
	return (bucket + 1) * 60
}
