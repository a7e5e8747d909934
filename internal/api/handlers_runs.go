package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/mongo"
)

const defaultRunsLimit = 20

// handleListRuns returns the most recent run ledger entries, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.store.ListRecent(r.Context(), int64(limit))
	if err != nil {
		s.logger.WithError(err).Error("list runs failed")
		writeJSON(w, http.StatusInternalServerError, requestID, start, map[string]interface{}{"error": "query failed"})
		return
	}

	writeJSON(w, http.StatusOK, requestID, start, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns a single run ledger entry by run_id.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	runID := mux.Vars(r)["id"]

	entry, err := s.store.GetByID(r.Context(), runID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			writeJSON(w, http.StatusNotFound, requestID, start, map[string]interface{}{
				"error":  "run not found",
				"run_id": runID,
			})
			return
		}
		s.logger.WithError(err).Error("get run failed")
		writeJSON(w, http.StatusInternalServerError, requestID, start, map[string]interface{}{"error": "query failed"})
		return
	}

	writeJSON(w, http.StatusOK, requestID, start, map[string]interface{}{
		"run": entry,
	})
}
