package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// handleStats reports dataset-wide counts plus the most recent run's
// incremental contribution and a coarse error rate.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	ctx := r.Context()

	rawCount, err := s.store.CountRaw(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, requestID, start, map[string]interface{}{"error": "count failed"})
		return
	}
	normalizedCount, err := s.store.CountNormalized(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, requestID, start, map[string]interface{}{"error": "count failed"})
		return
	}

	resp := map[string]interface{}{
		"raw_count":        rawCount,
		"normalized_count": normalizedCount,
	}

	recent, err := s.store.ListRecent(ctx, 1)
	if err == nil && len(recent) > 0 {
		latest := recent[0]
		var fetched, processed, valErrs int
		for _, stat := range latest.SourceStats {
			fetched += stat.Fetched
			processed += stat.Processed
			valErrs += stat.ValidationErrors
		}
		errorRate := 0.0
		if fetched > 0 {
			errorRate = float64(valErrs) / float64(fetched)
		}
		resp["run_id"] = latest.RunID
		resp["last_run_status"] = latest.Status
		resp["last_run_fetched"] = fetched
		resp["last_run_processed"] = processed
		resp["last_run_error_rate"] = errorRate
		resp["latency_avg_ms"] = latest.TotalLatencyMs
		resp["last_run_throttle_events"] = latest.ThrottleEvents
	}

	writeJSON(w, http.StatusOK, requestID, start, resp)
}
