package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// handleHealth reports per-component health: the API itself (always up if
// this handler runs), the document store connection and a live ping, and
// whether the scheduler is configured to run. Never fails closed — a
// component outage is reported in the body, not via a 5xx, so external
// probes can distinguish "degraded" from "unreachable".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbPingErr := s.store.Health(ctx)

	components := map[string]interface{}{
		"api":           "up",
		"db_connected":  dbPingErr == nil,
		"db_ping":       dbPingErr == nil,
		"scheduler":     s.cfg.Scheduler.Enabled,
	}

	status := http.StatusOK
	overall := "healthy"
	if dbPingErr != nil {
		overall = "degraded"
		components["db_error"] = dbPingErr.Error()
	}

	writeJSON(w, status, requestID, start, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
