// Package orchestrator drives one end-to-end runETL invocation: fetch all
// sources, batch-process each with resume, emit the run ledger entry.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ingestpipe/ingestpipe/internal/errs"
	"github.com/ingestpipe/ingestpipe/internal/extract"
	"github.com/ingestpipe/ingestpipe/internal/metrics"
	"github.com/ingestpipe/ingestpipe/internal/ratelimit"
	"github.com/ingestpipe/ingestpipe/internal/schema"
	"github.com/ingestpipe/ingestpipe/internal/store"
	"github.com/ingestpipe/ingestpipe/internal/validate"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// Store is the persistence surface runETL needs — satisfied by
// *internal/store.Store in production and by an in-memory fake in tests, so
// the S1-S6 scenarios from the data model can run without a live Mongo.
type Store interface {
	EnsureIndexes(ctx context.Context) error
	Watermark(ctx context.Context, source models.Source) (time.Time, bool, error)
	GetCheckpoint(ctx context.Context, runID string, source models.Source) (int, error)
	SaveCheckpoint(ctx context.Context, runID string, source models.Source, index int) error
	ClearCheckpoints(ctx context.Context, runID string) error
	LatestIncompleteRunID(ctx context.Context) (string, bool, error)
	Upsert(ctx context.Context, record *models.UnifiedRecord, runID string) (store.UpsertResult, error)
	WriteEntry(ctx context.Context, entry *models.RunLedgerEntry) error
}

// Orchestrator owns one run at a time — a mutual-exclusion guard rejects a
// trigger that fires while a run is already in progress.
type Orchestrator struct {
	cfg              *config.Config
	store            Store
	mapper           *schema.Mapper
	validator        *validate.Validator
	outliers         *validate.OutlierDetector
	metrics          *metrics.Registry
	httpExtractors   map[models.Source]*extract.HTTPExtractor
	tabularExtractor *extract.TabularExtractor
	gate             *ratelimit.Gate
	logger           *logrus.Entry

	mu      sync.Mutex
	running bool
}

// fetchResult is one source's outcome from the fan-out fetch phase.
type fetchResult struct {
	source models.Source
	rows   []models.RawRecord
	drift  models.DriftResult
}

func New(
	cfg *config.Config,
	st Store,
	mapper *schema.Mapper,
	httpExtractors map[models.Source]*extract.HTTPExtractor,
	tabularExtractor *extract.TabularExtractor,
	gate *ratelimit.Gate,
	reg *metrics.Registry,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:              cfg,
		store:            st,
		mapper:           mapper,
		validator:        validate.New(),
		outliers:         validate.NewOutlierDetector(reg),
		metrics:          reg,
		httpExtractors:   httpExtractors,
		tabularExtractor: tabularExtractor,
		gate:             gate,
		logger:           logger.WithField("component", "orchestrator"),
	}
}

// TryRunETL attempts to acquire the run guard and, if successful, runs
// runETL synchronously. It returns (ran=false, nil) as a no-op when a run
// is already in progress, matching the spec's "trigger is a no-op" policy.
func (o *Orchestrator) TryRunETL(ctx context.Context) (ran bool, entry *models.RunLedgerEntry, err error) {
	runID, startTime, ok := o.reserve(ctx)
	if !ok {
		return false, nil, nil
	}
	defer o.release()

	entry, err = o.runETL(ctx, runID, startTime)
	return true, entry, err
}

// StartAsync reserves the run guard and a runId synchronously — so a
// caller that must respond before the run finishes (the /refresh HTTP
// handler) has a runId to hand back immediately — then runs runETL in the
// background against ctx, which must outlive the caller (typically
// context.Background()). It returns (runId, started=false) as a no-op
// when a run is already in progress.
func (o *Orchestrator) StartAsync(ctx context.Context) (runID string, started bool) {
	runID, startTime, ok := o.reserve(ctx)
	if !ok {
		return "", false
	}

	go func() {
		defer o.release()
		if _, err := o.runETL(ctx, runID, startTime); err != nil {
			o.logger.WithError(err).Error("async run failed")
		}
	}()

	return runID, true
}

// reserve acquires the run guard and resolves this run's runId/startTime
// under it, so two overlapping triggers can never adopt the same
// partial_success runId into two concurrent runs.
func (o *Orchestrator) reserve(ctx context.Context) (runID string, startTime time.Time, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return "", time.Time{}, false
	}
	o.running = true
	runID, startTime = o.beginRun(ctx)
	return runID, startTime, true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// runETL implements the CREATED -> FETCHING -> PROCESSING -> terminal state
// machine of the data model.
func (o *Orchestrator) runETL(ctx context.Context, runID string, startTime time.Time) (*models.RunLedgerEntry, error) {
	entry := models.NewRunLedgerEntry(runID, startTime)
	entry.Status = models.RunCreated

	if err := o.store.EnsureIndexes(ctx); err != nil {
		entry.Status = models.RunFailed
		entry.EndTime = time.Now().UTC()
		o.writeLedgerBestEffort(ctx, entry)
		return entry, errs.NewSetupError("ensure indexes", err)
	}

	throttleBefore := 0
	if o.gate != nil {
		throttleBefore = o.gate.ThrottleCount()
	}

	entry.Status = models.RunFetching
	results, totalLatencyMs := o.fetchAllSources(ctx)
	entry.TotalLatencyMs = totalLatencyMs

	if o.gate != nil {
		entry.ThrottleEvents = o.gate.ThrottleCount() - throttleBefore
	}

	entry.Status = models.RunProcessing
	var anyFailedBatch bool

	for _, source := range o.sourceOrder() {
		result, ok := results[source]
		if !ok {
			continue
		}

		stats := &models.SourceStats{Fetched: len(result.rows)}
		entry.SourceStats[source] = stats
		entry.SchemaVersion[source] = result.drift.SchemaVersion
		entry.AppliedMappings = append(entry.AppliedMappings, result.drift.AppliedMappings...)
		entry.QuarantinedMappings = append(entry.QuarantinedMappings, result.drift.QuarantinedMappings...)
		entry.SkippedMappings = append(entry.SkippedMappings, result.drift.SkippedMappings...)

		watermark, hasWatermark, err := o.store.Watermark(ctx, source)
		if err != nil {
			entry.Status = models.RunFailed
			entry.EndTime = time.Now().UTC()
			o.writeLedgerBestEffort(ctx, entry)
			return entry, errs.NewSetupError("read watermark", err)
		}

		lastIndex, err := o.store.GetCheckpoint(ctx, runID, source)
		if err != nil {
			entry.Status = models.RunFailed
			entry.EndTime = time.Now().UTC()
			o.writeLedgerBestEffort(ctx, entry)
			return entry, errs.NewSetupError("read checkpoint", err)
		}
		if lastIndex > 0 {
			entry.ResumeInfo[source] = models.ResumeInfo{ResumedFromBatch: lastIndex / o.cfg.ETL.BatchSize}
		}

		failedThisSource := o.processSource(ctx, runID, source, result.rows, watermark, hasWatermark, lastIndex, stats, entry)
		if failedThisSource {
			anyFailedBatch = true
		}
	}

	entry.EndTime = time.Now().UTC()
	if anyFailedBatch {
		entry.Status = models.RunPartialSuccess
	} else {
		entry.Status = models.RunSuccess
		if err := o.store.ClearCheckpoints(ctx, runID); err != nil {
			o.logger.WithError(err).Error("failed to clear checkpoints after successful run")
		}
	}

	if err := o.store.WriteEntry(ctx, entry); err != nil {
		return entry, errs.NewSetupError("write ledger", err)
	}

	return entry, nil
}

// beginRun resolves the resume-key open question: if a prior run ended in
// partial_success, its runId is adopted so its preserved checkpoints are
// consulted by this pass; otherwise a fresh UUID v4 is minted.
func (o *Orchestrator) beginRun(ctx context.Context) (string, time.Time) {
	startTime := time.Now().UTC()

	if incompleteID, found, err := o.store.LatestIncompleteRunID(ctx); err == nil && found {
		o.logger.WithField("run_id", incompleteID).Info("adopting incomplete run for resume")
		return incompleteID, startTime
	}

	return uuid.New().String(), startTime
}

func (o *Orchestrator) sourceOrder() []models.Source {
	return []models.Source{models.SourceA, models.SourceB, models.SourceC}
}

// fetchAllSources fans out the three source extractions concurrently,
// returning each source's rows alongside the fetch phase's total latency
// across all sources (the ledger's TotalLatencyMs).
func (o *Orchestrator) fetchAllSources(ctx context.Context) (map[models.Source]fetchResult, float64) {
	results := make(map[models.Source]fetchResult)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var totalLatencyMs float64

	for source, extractor := range o.httpExtractors {
		wg.Add(1)
		go func(source models.Source, extractor *extract.HTTPExtractor) {
			defer wg.Done()
			start := time.Now()
			rows := extractor.Extract(ctx)
			elapsed := time.Since(start)
			if o.metrics != nil {
				o.metrics.ObserveLatency("extract", elapsed.Seconds())
			}

			var firstRaw models.RawRecord
			if len(rows) > 0 {
				firstRaw = rows[0]
			}
			var drift models.DriftResult
			if firstRaw != nil {
				drift = o.mapper.DetectDrift(source, firstRaw)
			}

			mapped := make([]models.RawRecord, 0, len(rows))
			for _, row := range rows {
				mappedRow, _ := o.mapper.MapRow(source, row)
				mapped = append(mapped, mappedRow)
			}

			mu.Lock()
			results[source] = fetchResult{source: source, rows: mapped, drift: drift}
			totalLatencyMs += float64(elapsed.Microseconds()) / 1000.0
			mu.Unlock()
		}(source, extractor)
	}

	if o.tabularExtractor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			rows, drift := o.tabularExtractor.Extract()
			elapsed := time.Since(start)
			if o.metrics != nil {
				o.metrics.ObserveLatency("extract", elapsed.Seconds())
			}
			mu.Lock()
			totalLatencyMs += float64(elapsed.Microseconds()) / 1000.0
			results[models.SourceB] = fetchResult{source: models.SourceB, rows: rows, drift: drift}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results, totalLatencyMs
}

// processSource runs the sequential batch loop for one source, returning
// whether any batch failed.
func (o *Orchestrator) processSource(
	ctx context.Context,
	runID string,
	source models.Source,
	rows []models.RawRecord,
	watermark time.Time,
	hasWatermark bool,
	startIndex int,
	stats *models.SourceStats,
	entry *models.RunLedgerEntry,
) (failed bool) {
	batchSize := o.cfg.ETL.BatchSize
	threshold := int(float64(len(rows)) * 0.6)

	for i := startIndex; i < len(rows); i += batchSize {
		// Cancellation is honored only here, between batches; the run then
		// ends partial_success with its checkpoints preserved.
		if ctx.Err() != nil {
			return true
		}

		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[i:end]
		batchNo := i / batchSize

		if o.cfg.ETL.FaultInjection && end >= threshold {
			entry.FailedBatches = append(entry.FailedBatches, models.FailedBatch{
				Source:      source,
				BatchNo:     batchNo,
				Error:       "synthetic fault injected",
				RecordCount: len(batch),
			})
			return true
		}

		batchFailed := false
		for _, row := range batch {
			record, err := o.validator.Validate(source, row)
			if err != nil {
				stats.ValidationErrors++
				continue
			}

			if hasWatermark && !record.Timestamp.After(watermark) {
				stats.SkippedByWatermark++
				continue
			}

			o.outliers.Observe(record)

			record.RawData = row
			record.RunID = runID

			if _, err := o.store.Upsert(ctx, record, runID); err != nil {
				batchErr := errs.NewBatchError(source, batchNo, err)
				o.logger.WithError(batchErr).Warn("batch failed")
				entry.FailedBatches = append(entry.FailedBatches, models.FailedBatch{
					Source:      source,
					BatchNo:     batchNo,
					Error:       batchErr.Error(),
					RecordCount: len(batch),
				})
				batchFailed = true
				break
			}

			stats.Processed++
			if o.metrics != nil {
				o.metrics.IncRowsProcessed(string(source), 1)
			}
		}

		if batchFailed {
			return true
		}

		if err := o.store.SaveCheckpoint(ctx, runID, source, end); err != nil {
			batchErr := errs.NewBatchError(source, batchNo, fmt.Errorf("checkpoint save failed: %w", err))
			o.logger.WithError(batchErr).Warn("batch failed")
			entry.FailedBatches = append(entry.FailedBatches, models.FailedBatch{
				Source:      source,
				BatchNo:     batchNo,
				Error:       batchErr.Error(),
				RecordCount: len(batch),
			})
			return true
		}
	}

	return false
}

func (o *Orchestrator) writeLedgerBestEffort(ctx context.Context, entry *models.RunLedgerEntry) {
	if err := o.store.WriteEntry(ctx, entry); err != nil {
		o.logger.WithError(err).Error("failed to write ledger entry after fatal setup failure")
	}
}
