package ratelimit

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/ingestpipe/ingestpipe/internal/metrics"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestGate(burst, rpm, backoffMs int) *Gate {
	cfgs := map[config.Source]config.RateLimitConfig{
		"A": {RequestsPerMinute: rpm, BurstCapacity: burst, RetryBackoffMs: backoffMs},
	}
	return New(cfgs, metrics.New(), testLogger())
}

func TestAcquire_GrantsUpToBurstCapacity(t *testing.T) {
	g := newTestGate(3, 60, 10)

	for i := 0; i < 3; i++ {
		decision, cached := g.Acquire(models.SourceA)
		assert.Equal(t, OK, decision)
		assert.Nil(t, cached)
	}
}

func TestAcquire_ThrottlesOnceBucketIsExhausted(t *testing.T) {
	g := newTestGate(1, 1, 5) // 1 token/min refill, so the retry within 5ms won't see a refill
	g.Acquire(models.SourceA)

	decision, _ := g.Acquire(models.SourceA)
	assert.Equal(t, Throttled, decision)
}

func TestAcquire_ServesCachedPayloadInsteadOfSleeping(t *testing.T) {
	g := newTestGate(1, 1, 50)
	g.Acquire(models.SourceA) // drains the single token

	g.CachePayload(models.SourceA, []models.RawRecord{{"symbol": "BTC"}})

	start := time.Now()
	decision, cached := g.Acquire(models.SourceA)
	elapsed := time.Since(start)

	assert.Equal(t, OK, decision)
	assert.NotNil(t, cached)
	assert.Less(t, elapsed, 50*time.Millisecond, "cached payload should short-circuit the retry sleep")
}

func TestAcquire_UnknownSourceIsNeverThrottled(t *testing.T) {
	g := newTestGate(1, 60, 10)
	decision, _ := g.Acquire(models.SourceC)
	assert.Equal(t, OK, decision)
}

func TestCachedPayload_ExpiresAfterTTL(t *testing.T) {
	g := newTestGate(5, 60, 10)
	g.cache[models.SourceA] = cacheEntry{payload: "stale", expireAt: time.Now().Add(-time.Second)}

	_, found := g.cachedPayload(models.SourceA)
	assert.False(t, found)
}

func TestThrottleCount_IncrementsOnlyOnThrottledAcquire(t *testing.T) {
	g := newTestGate(1, 1, 5)
	assert.Equal(t, 0, g.ThrottleCount())

	g.Acquire(models.SourceA) // drains the single token, no throttle
	assert.Equal(t, 0, g.ThrottleCount())

	g.Acquire(models.SourceA) // bucket exhausted, retry also fails
	assert.Equal(t, 1, g.ThrottleCount())
}

func TestTryAcquire_RefillsProportionallyToElapsedTime(t *testing.T) {
	g := newTestGate(10, 600, 10) // 600 rpm => 10 tokens/sec
	for i := 0; i < 10; i++ {
		g.Acquire(models.SourceA)
	}

	bucket := g.buckets[models.SourceA]
	bucket.LastRefill = time.Now().Add(-1 * time.Second)

	ok, _ := g.tryAcquire(models.SourceA)
	assert.True(t, ok, "a full second at 600rpm should refill at least one token")
}
