// Package app wires every component into the process-supervisor lifecycle:
// an ordered Initialize, a Start that launches the API server and
// scheduler, and a bounded-timeout Stop.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ingestpipe/ingestpipe/internal/api"
	"github.com/ingestpipe/ingestpipe/internal/extract"
	"github.com/ingestpipe/ingestpipe/internal/metrics"
	"github.com/ingestpipe/ingestpipe/internal/orchestrator"
	"github.com/ingestpipe/ingestpipe/internal/ratelimit"
	"github.com/ingestpipe/ingestpipe/internal/schema"
	"github.com/ingestpipe/ingestpipe/internal/store"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// App represents the main application.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	store        *store.Store
	gate         *ratelimit.Gate
	mapper       *schema.Mapper
	metricsReg   *metrics.Registry
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server
	cronRunner   *cron.Cron
}

// New creates a new application instance.
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all application components.
func (a *App) Initialize() error {
	if err := a.initializeStore(); err != nil {
		return fmt.Errorf("failed to initialize document store: %w", err)
	}

	a.initializeMetrics()

	if err := a.initializeRateGate(); err != nil {
		return fmt.Errorf("failed to initialize rate gate: %w", err)
	}

	if err := a.initializeSchemaMapper(); err != nil {
		return fmt.Errorf("failed to initialize schema mapper: %w", err)
	}

	if err := a.initializeOrchestrator(); err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	if err := a.initializeAPIServer(); err != nil {
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	a.initializeScheduler()

	return nil
}

// Start starts the application.
func (a *App) Start() error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil {
			if err != http.ErrServerClosed {
				a.logger.WithError(err).Error("API server error")
			}
		}
	}()

	if a.cronRunner != nil {
		a.cronRunner.Start()
	}

	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() error {
	a.logger.Info("Stopping application...")

	a.cancel()

	if a.cronRunner != nil {
		cronCtx := a.cronRunner.Stop()
		<-cronCtx.Done()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All goroutines stopped")
	case <-time.After(3 * time.Second):
		a.logger.Warn("Timeout waiting for goroutines to finish")
	}

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
	}

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.Close(ctx); err != nil {
			a.logger.WithError(err).Error("Error closing document store")
		}
	}

	a.logger.Info("Application stopped successfully")
	return nil
}

// GetContext returns the application context.
func (a *App) GetContext() context.Context {
	return a.ctx
}

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// Private initialization methods

func (a *App) initializeStore() error {
	st, err := store.New(&a.cfg.Mongo, a.logger)
	if err != nil {
		return err
	}
	a.store = st
	return nil
}

func (a *App) initializeMetrics() {
	a.metricsReg = metrics.New()
}

func (a *App) initializeRateGate() error {
	cfgs := map[config.Source]config.RateLimitConfig{
		"A": a.cfg.RateLimits["A"],
		"B": a.cfg.RateLimits["B"],
		"C": a.cfg.RateLimits["C"],
	}
	a.gate = ratelimit.New(cfgs, a.metricsReg, a.logger)
	return nil
}

func (a *App) initializeSchemaMapper() error {
	if err := schema.LoadAliasOverrides(a.cfg.ETL.SchemaAliases); err != nil {
		return err
	}
	a.mapper = schema.New(a.logger)
	return nil
}

func (a *App) initializeOrchestrator() error {
	httpExtractors := map[models.Source]*extract.HTTPExtractor{
		models.SourceA: extract.NewHTTPExtractor(models.SourceA, a.cfg.SourceA, a.gate, a.metricsReg, a.logger),
		models.SourceC: extract.NewHTTPExtractor(models.SourceC, a.cfg.SourceC, a.gate, a.metricsReg, a.logger),
	}
	tabularExtractor := extract.NewTabularExtractor(models.SourceB, a.cfg.SourceB, a.mapper, a.logger)

	a.orchestrator = orchestrator.New(a.cfg, a.store, a.mapper, httpExtractors, tabularExtractor, a.gate, a.metricsReg, a.logger)
	return nil
}

func (a *App) initializeAPIServer() error {
	a.apiServer = api.NewServer(a.cfg, a.logger, a.store, a.orchestrator, a.metricsReg)
	return nil
}

func (a *App) initializeScheduler() {
	if !a.cfg.Scheduler.Enabled {
		return
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(a.cfg.Scheduler.IntervalCron, func() {
		ran, _, err := a.orchestrator.TryRunETL(a.ctx)
		if err != nil {
			a.logger.WithError(err).Error("scheduled run failed")
			return
		}
		if !ran {
			a.logger.Debug("scheduled trigger skipped: a run is already in progress")
		}
	})
	if err != nil {
		a.logger.WithError(err).Error("failed to schedule ETL cron trigger")
		return
	}

	a.cronRunner = c
}
