// Package ratelimit implements the per-source admission control the
// orchestrator's extractors gate every HTTP fetch through.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ingestpipe/ingestpipe/internal/metrics"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	pkglogger "github.com/ingestpipe/ingestpipe/pkg/logger"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

const refillIntervalMs = 60_000

// Decision is the outcome of a single Acquire call.
type Decision int

const (
	OK Decision = iota
	Throttled
)

// cacheEntry is one source's short-TTL memoized payload.
type cacheEntry struct {
	payload  interface{}
	expireAt time.Time
}

// Gate owns the token-bucket state for every configured source, guarded by
// a single mutex shared by all sources so concurrent acquires serialize
// cleanly.
type Gate struct {
	mu            sync.Mutex
	buckets       map[models.Source]*models.TokenBucketState
	cache         map[models.Source]cacheEntry
	throttleCount int
	metrics       *metrics.Registry
	logger        *logrus.Entry
}

// New builds a Gate seeded from the configured rate limits, with each
// bucket starting full per the spec's "initial token count = burstCapacity"
// tie-break.
func New(cfgs map[config.Source]config.RateLimitConfig, reg *metrics.Registry, logger *logrus.Logger) *Gate {
	g := &Gate{
		buckets: make(map[models.Source]*models.TokenBucketState),
		cache:   make(map[models.Source]cacheEntry),
		metrics: reg,
		logger:  pkglogger.WithComponent(logger, "rate-gate"),
	}

	now := time.Now()
	for src, c := range cfgs {
		source := models.Source(src)
		g.buckets[source] = &models.TokenBucketState{
			Limit:          float64(c.RequestsPerMinute),
			BurstCapacity:  float64(c.BurstCapacity),
			Tokens:         float64(c.BurstCapacity),
			LastRefill:     now,
			RetryBackoffMs: c.RetryBackoffMs,
		}
		if reg != nil {
			reg.SetQuotaRequestsPerMinute(string(source), float64(c.RequestsPerMinute))
			reg.SetTokensRemaining(string(source), float64(c.BurstCapacity))
		}
	}

	return g
}

// Acquire blocks up to the source's configured retryBackoffMs once, then
// returns the outcome and, when a cached payload substituted for a fresh
// token, that payload.
func (g *Gate) Acquire(source models.Source) (Decision, interface{}) {
	ok, wait := g.tryAcquire(source)
	if ok {
		return OK, nil
	}

	g.mu.Lock()
	g.throttleCount++
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.IncThrottleEvents(string(source))
	}

	if cached, found := g.cachedPayload(source); found {
		return OK, cached
	}

	start := time.Now()
	time.Sleep(wait)
	if g.metrics != nil {
		g.metrics.ObserveRetryLatency(string(source), time.Since(start).Seconds())
	}

	ok, _ = g.tryAcquire(source)
	if ok {
		return OK, nil
	}
	return Throttled, nil
}

// tryAcquire performs the lazy-refill-then-decrement step once, returning
// whether a token was granted and, if not, how long the caller should wait.
func (g *Gate) tryAcquire(source models.Source) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	bucket, exists := g.buckets[source]
	if !exists {
		return true, 0
	}

	now := time.Now()
	elapsedMs := now.Sub(bucket.LastRefill).Milliseconds()
	if elapsedMs > 0 {
		tokensToAdd := float64(elapsedMs) / refillIntervalMs * bucket.Limit
		if tokensToAdd > 0 {
			bucket.Tokens = min(bucket.BurstCapacity, bucket.Tokens+tokensToAdd)
			bucket.LastRefill = now
		}
	}

	if bucket.Tokens >= 1 {
		bucket.Tokens--
		if g.metrics != nil {
			g.metrics.SetTokensRemaining(string(source), bucket.Tokens)
		}
		return true, 0
	}

	return false, time.Duration(bucket.RetryBackoffMs) * time.Millisecond
}

// ThrottleCount returns the cumulative number of Acquire calls that hit an
// exhausted bucket since the gate was created, across all sources.
func (g *Gate) ThrottleCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.throttleCount
}

// CachePayload memoizes the last successful fetch for source, to be served
// back instead of sleeping the next time tokens are exhausted.
func (g *Gate) CachePayload(source models.Source, payload interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[source] = cacheEntry{payload: payload, expireAt: time.Now().Add(60 * time.Second)}
}

func (g *Gate) cachedPayload(source models.Source) (interface{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.cache[source]
	if !ok || time.Now().After(entry.expireAt) {
		return nil, false
	}
	return entry.payload, true
}
