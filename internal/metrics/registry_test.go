package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_HandlerExposesRegisteredInstrumentNames(t *testing.T) {
	r := New()
	r.IncRowsProcessed("A", 3)
	r.IncErrors("B", "network")
	r.ObserveLatency("extract", 0.25)
	r.IncThrottleEvents("C")
	r.ObserveRetryLatency("A", 0.1)
	r.SetTokensRemaining("A", 5)
	r.SetQuotaRequestsPerMinute("A", 60)
	r.IncOutlierDetected("price_usd", "z_score", "BTC")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, name := range []string{
		"etl_rows_processed_total",
		"etl_errors_total",
		"etl_latency_seconds",
		"throttle_events_total",
		"retry_latency_seconds",
		"tokens_remaining",
		"quota_requests_per_minute",
		"outlier_detected_total",
	} {
		assert.Contains(t, body, name)
	}
}

func TestRegistry_DoesNotPanicWithoutPriorObservations(t *testing.T) {
	r := New()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() { r.Handler().ServeHTTP(rec, req) })
	assert.Equal(t, 200, rec.Code)
}
