package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// handleRefresh triggers an out-of-band run. Per spec.md §6 this is async:
// the orchestrator is dispatched in the background against a context
// detached from the request, and the handler responds 202 immediately
// with the reserved run_id plus a pre-run health/counts snapshot, never
// blocking on the run itself. It is a no-op (202, ran=false) if a run is
// already in progress — the orchestrator's mutual-exclusion guard is
// authoritative, this handler never blocks waiting for a slot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	health, preRunCounts := s.preRunSnapshot(r.Context())

	runID, started := s.orchestrator.StartAsync(context.Background())
	if !started {
		writeJSON(w, http.StatusAccepted, requestID, start, map[string]interface{}{
			"ran":            false,
			"health":         health,
			"pre_run_counts": preRunCounts,
			"message":        "a run is already in progress",
		})
		return
	}

	s.logger.WithField("run_id", runID).Info("dispatched async run")

	writeJSON(w, http.StatusAccepted, requestID, start, map[string]interface{}{
		"run_id":         runID,
		"health":         health,
		"pre_run_counts": preRunCounts,
		"message":        "run started",
	})
}

// preRunSnapshot gathers the cheap health/count signals the refresh
// response carries alongside the reserved run_id, never failing the
// request itself — an unreachable store shows up inside the snapshot, not
// as a 5xx, matching handleHealth's "degraded, not unreachable" policy.
func (s *Server) preRunSnapshot(ctx context.Context) (health map[string]interface{}, counts map[string]interface{}) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	dbPingErr := s.store.Health(ctx)
	health = map[string]interface{}{
		"db_connected": dbPingErr == nil,
		"db_ping":      dbPingErr == nil,
	}
	if dbPingErr != nil {
		health["db_error"] = dbPingErr.Error()
	}

	rawCount, err := s.store.CountRaw(ctx)
	if err != nil {
		rawCount = 0
	}
	normalizedCount, err := s.store.CountNormalized(ctx)
	if err != nil {
		normalizedCount = 0
	}
	counts = map[string]interface{}{
		"raw":        rawCount,
		"normalized": normalizedCount,
	}

	return health, counts
}
