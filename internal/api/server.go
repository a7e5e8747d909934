// Package api implements the pipeline's external HTTP surface: triggering
// runs, querying the normalized dataset, inspecting run history, and
// scraping metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ingestpipe/ingestpipe/internal/metrics"
	"github.com/ingestpipe/ingestpipe/internal/orchestrator"
	"github.com/ingestpipe/ingestpipe/internal/store"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	"github.com/ingestpipe/ingestpipe/pkg/logger"
)

// Server represents the HTTP API server.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	store        *store.Store
	orchestrator *orchestrator.Orchestrator
	metricsReg   *metrics.Registry
}

// NewServer creates a new API server.
func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	st *store.Store,
	orch *orchestrator.Orchestrator,
	reg *metrics.Registry,
) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		orchestrator: orch,
		metricsReg:   reg,
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(logger.Middleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	s.router.HandleFunc("/data", s.handleData).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	s.router.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.cfg.Monitoring.MetricsEnabled {
		s.router.Handle(s.cfg.Monitoring.MetricsPath, s.metricsReg.Handler()).Methods("GET")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	err := s.httpServer.ListenAndServe()
	if err != nil {
		if strings.Contains(err.Error(), "address already in use") {
			return fmt.Errorf("port %d is already in use", s.cfg.Server.Port)
		}
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Middleware functions

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"*"}),
	)(next)
}

// writeJSON writes v as a JSON response, stamping the common envelope
// fields every response must carry.
func writeJSON(w http.ResponseWriter, status int, requestID string, start time.Time, v map[string]interface{}) {
	v["request_id"] = requestID
	v["api_latency_ms"] = float64(time.Since(start).Microseconds()) / 1000.0

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
