package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestpipe/ingestpipe/internal/errs"
	"github.com/ingestpipe/ingestpipe/internal/extract"
	"github.com/ingestpipe/ingestpipe/internal/metrics"
	"github.com/ingestpipe/ingestpipe/internal/ratelimit"
	"github.com/ingestpipe/ingestpipe/internal/schema"
	"github.com/ingestpipe/ingestpipe/internal/store"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// fakeStore is a mongo-driver-free in-memory stand-in for internal/store.Store,
// exercising the S1-S6 resumable-batch scenarios from the data model.
type fakeStore struct {
	mu               sync.Mutex
	normalized       map[models.NaturalKey]*models.UnifiedRecord
	checkpoints      map[string]int // runID|source -> lastProcessedIndex
	runs             map[string]*models.RunLedgerEntry
	upsertFails      map[models.Source]int // remaining forced-failure count per source
	ensureIndexesErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		normalized:  make(map[models.NaturalKey]*models.UnifiedRecord),
		checkpoints: make(map[string]int),
		runs:        make(map[string]*models.RunLedgerEntry),
		upsertFails: make(map[models.Source]int),
	}
}

func checkpointKey(runID string, source models.Source) string {
	return runID + "|" + string(source)
}

func (f *fakeStore) EnsureIndexes(ctx context.Context) error { return f.ensureIndexesErr }

func (f *fakeStore) Watermark(ctx context.Context, source models.Source) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest time.Time
	found := false
	for key, rec := range f.normalized {
		if key.Source != source {
			continue
		}
		if !found || rec.Timestamp.After(latest) {
			latest = rec.Timestamp
			found = true
		}
	}
	return latest, found, nil
}

func (f *fakeStore) GetCheckpoint(ctx context.Context, runID string, source models.Source) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoints[checkpointKey(runID, source)], nil
}

func (f *fakeStore) SaveCheckpoint(ctx context.Context, runID string, source models.Source, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints[checkpointKey(runID, source)] = index
	return nil
}

func (f *fakeStore) ClearCheckpoints(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.checkpoints {
		if len(k) >= len(runID) && k[:len(runID)] == runID {
			delete(f.checkpoints, k)
		}
	}
	return nil
}

func (f *fakeStore) LatestIncompleteRunID(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latestID string
	var latestTime time.Time
	found := false
	for id, entry := range f.runs {
		if entry.Status != models.RunPartialSuccess {
			continue
		}
		if !found || entry.StartTime.After(latestTime) {
			latestID = id
			latestTime = entry.StartTime
			found = true
		}
	}
	return latestID, found, nil
}

func (f *fakeStore) Upsert(ctx context.Context, record *models.UnifiedRecord, runID string) (store.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if remaining := f.upsertFails[record.Source]; remaining > 0 {
		f.upsertFails[record.Source] = remaining - 1
		return 0, fmt.Errorf("simulated upsert failure for %s", record.Source)
	}

	key := record.Key()
	_, existed := f.normalized[key]
	f.normalized[key] = record
	if existed {
		return store.MatchedExisting, nil
	}
	return store.Inserted, nil
}

// WriteEntry mirrors the real store's ReplaceOne-with-upsert semantics: a
// second write under the same RunID replaces the first rather than
// appending a sibling document.
func (f *fakeStore) WriteEntry(ctx context.Context, entry *models.RunLedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[entry.RunID] = entry
	return nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testConfig(batchSize int, faultInjection bool) *config.Config {
	return &config.Config{
		ETL: config.ETLConfig{BatchSize: batchSize, FaultInjection: faultInjection},
		RateLimits: map[config.Source]config.RateLimitConfig{
			"A": {RequestsPerMinute: 600, BurstCapacity: 10, RetryBackoffMs: 1},
			"B": {RequestsPerMinute: 600, BurstCapacity: 10, RetryBackoffMs: 1},
			"C": {RequestsPerMinute: 600, BurstCapacity: 10, RetryBackoffMs: 1},
		},
	}
}

func rowsFor(source models.Source, n int, baseTime time.Time) []models.RawRecord {
	rows := make([]models.RawRecord, n)
	for i := 0; i < n; i++ {
		rows[i] = models.RawRecord{
			"symbol":    fmt.Sprintf("SYM%d", i),
			"name":      fmt.Sprintf("Symbol %d", i),
			"price_usd": float64(100 + i),
			"volume_24h": float64(10),
			"timestamp": baseTime.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
	}
	return rows
}

// newTestOrchestrator builds an Orchestrator with no live extractors, so a
// runETL pass through it fetches nothing; the S1-S6 tests therefore exercise
// processSource directly, which is the unit runETL composes per source.
func newTestOrchestrator(cfg *config.Config, st Store) *Orchestrator {
	gate := ratelimit.New(cfg.RateLimits, metrics.New(), testLogger())
	return New(cfg, st, schema.New(testLogger()), map[models.Source]*extract.HTTPExtractor{}, nil, gate, metrics.New(), testLogger())
}

func TestProcessSource_S1_HappyPathProcessesAllRows(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(5, false), st)

	rows := rowsFor(models.SourceA, 12, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	stats := &models.SourceStats{Fetched: len(rows)}
	entry := models.NewRunLedgerEntry("run-1", time.Now())

	failed := o.processSource(context.Background(), "run-1", models.SourceA, rows, time.Time{}, false, 0, stats, entry)

	assert.False(t, failed)
	assert.Equal(t, 12, stats.Processed)
	assert.Equal(t, 0, stats.ValidationErrors)
	assert.Empty(t, entry.FailedBatches)
}

func TestProcessSource_S2_WatermarkSkipsAlreadyIngestedRows(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(5, false), st)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := rowsFor(models.SourceA, 5, base)
	watermark := base.Add(2 * time.Minute) // rows 0,1,2 fall at or before this

	stats := &models.SourceStats{Fetched: len(rows)}
	entry := models.NewRunLedgerEntry("run-2", time.Now())

	o.processSource(context.Background(), "run-2", models.SourceA, rows, watermark, true, 0, stats, entry)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 3, stats.SkippedByWatermark)
}

func TestProcessSource_S3_ValidationFailuresAreCountedNotFatal(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(5, false), st)

	rows := rowsFor(models.SourceA, 4, time.Now())
	rows[1]["price_usd"] = -5.0 // invalid: must be strictly positive

	stats := &models.SourceStats{Fetched: len(rows)}
	entry := models.NewRunLedgerEntry("run-3", time.Now())

	failed := o.processSource(context.Background(), "run-3", models.SourceA, rows, time.Time{}, false, 0, stats, entry)

	assert.False(t, failed)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.ValidationErrors)
}

func TestProcessSource_S4_UpsertFailureStopsTheBatchAndRecordsFailedBatch(t *testing.T) {
	st := newFakeStore()
	st.upsertFails[models.SourceA] = 1

	o := newTestOrchestrator(testConfig(5, false), st)
	rows := rowsFor(models.SourceA, 10, time.Now())

	stats := &models.SourceStats{Fetched: len(rows)}
	entry := models.NewRunLedgerEntry("run-4", time.Now())

	failed := o.processSource(context.Background(), "run-4", models.SourceA, rows, time.Time{}, false, 0, stats, entry)

	assert.True(t, failed)
	require.Len(t, entry.FailedBatches, 1)
	assert.Equal(t, 0, entry.FailedBatches[0].BatchNo)
}

func TestProcessSource_S5_FaultInjectionTripsAtSixtyPercent(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(2, true), st)

	rows := rowsFor(models.SourceA, 10, time.Now())
	stats := &models.SourceStats{Fetched: len(rows)}
	entry := models.NewRunLedgerEntry("run-5", time.Now())

	failed := o.processSource(context.Background(), "run-5", models.SourceA, rows, time.Time{}, false, 0, stats, entry)

	require.True(t, failed)
	require.Len(t, entry.FailedBatches, 1)
	assert.Contains(t, entry.FailedBatches[0].Error, "synthetic fault injected")
	assert.Less(t, stats.Processed, len(rows), "fault injection must stop processing before the full set completes")
}

func TestProcessSource_S5_FaultInjectionMatchesWorkedExample(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(5, true), st)

	rows := rowsFor(models.SourceA, 20, time.Now())
	stats := &models.SourceStats{Fetched: len(rows)}
	entry := models.NewRunLedgerEntry("run-5b", time.Now())

	failed := o.processSource(context.Background(), "run-5b", models.SourceA, rows, time.Time{}, false, 0, stats, entry)

	require.True(t, failed)
	require.Len(t, entry.FailedBatches, 1)
	assert.Equal(t, 2, entry.FailedBatches[0].BatchNo)
	assert.Equal(t, 10, stats.Processed)

	checkpoint, err := st.GetCheckpoint(context.Background(), "run-5b", models.SourceA)
	require.NoError(t, err)
	assert.Equal(t, 10, checkpoint)
}

func TestProcessSource_S6_ResumesFromStartIndexAfterPriorPartialBatch(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(5, false), st)

	rows := rowsFor(models.SourceA, 10, time.Now())
	stats := &models.SourceStats{Fetched: len(rows)}
	entry := models.NewRunLedgerEntry("run-6", time.Now())

	// Simulate a prior pass that completed the first batch (index 0..5) and
	// saved its checkpoint, then resume from index 5.
	failed := o.processSource(context.Background(), "run-6", models.SourceA, rows, time.Time{}, false, 5, stats, entry)

	assert.False(t, failed)
	assert.Equal(t, 5, stats.Processed, "only the un-checkpointed tail should be processed")
}

func TestBeginRun_AdoptsLatestPartialSuccessRun(t *testing.T) {
	st := newFakeStore()
	st.runs["old-run"] = &models.RunLedgerEntry{
		RunID:     "old-run",
		StartTime: time.Now().Add(-time.Hour),
		Status:    models.RunPartialSuccess,
	}

	o := newTestOrchestrator(testConfig(5, false), st)

	runID, _ := o.beginRun(context.Background())
	assert.Equal(t, "old-run", runID)
}

func TestBeginRun_MintsFreshUUIDWhenNoIncompleteRun(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(5, false), st)

	runID, _ := o.beginRun(context.Background())
	assert.NotEmpty(t, runID)
	assert.NotEqual(t, "old-run", runID)
}

func TestTryRunETL_IsANoOpWhileARunIsInProgress(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(testConfig(5, false), st)

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	ran, entry, err := o.TryRunETL(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Nil(t, entry)
}

func TestTryRunETL_EnsureIndexesFailureIsFatalSetup(t *testing.T) {
	st := newFakeStore()
	st.ensureIndexesErr = fmt.Errorf("connection refused")
	o := newTestOrchestrator(testConfig(5, false), st)

	ran, entry, err := o.TryRunETL(context.Background())
	require.True(t, ran)
	require.Error(t, err)
	assert.True(t, errs.IsFatalSetup(err))
	assert.Equal(t, models.RunFailed, entry.Status)
}

func TestTryRunETL_PopulatesTotalLatencyMsFromTheFetchPhase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"symbol":"BTC","price_usd":100,"volume_24h":1,"timestamp":"2026-01-01T00:00:00Z"}]`))
	}))
	defer server.Close()

	cfg := testConfig(5, false)
	reg := metrics.New()
	log := testLogger()
	gate := ratelimit.New(cfg.RateLimits, reg, log) // ample burst capacity, so this Acquire is never throttled

	httpExtractors := map[models.Source]*extract.HTTPExtractor{
		models.SourceA: extract.NewHTTPExtractor(models.SourceA, config.SourceHTTPConfig{URL: server.URL}, gate, reg, log),
	}

	st := newFakeStore()
	o := New(cfg, st, schema.New(log), httpExtractors, nil, gate, reg, log)

	_, entry, err := o.TryRunETL(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, 0, entry.ThrottleEvents)
	assert.GreaterOrEqual(t, entry.TotalLatencyMs, 5.0, "the server's artificial delay should show up in total fetch latency")
}

func TestTryRunETL_PopulatesThrottleEventsFromTheFetchPhase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	cfg := testConfig(5, false)
	reg := metrics.New()
	log := testLogger()

	// Burst capacity of 0 guarantees the one Acquire call this source makes
	// during the fetch phase is throttled, giving a deterministic non-zero
	// delta for ThrottleEvents.
	cfg.RateLimits[config.Source(models.SourceA)] = config.RateLimitConfig{RequestsPerMinute: 60, BurstCapacity: 0, RetryBackoffMs: 1}
	gate := ratelimit.New(cfg.RateLimits, reg, log)

	httpExtractors := map[models.Source]*extract.HTTPExtractor{
		models.SourceA: extract.NewHTTPExtractor(models.SourceA, config.SourceHTTPConfig{URL: server.URL}, gate, reg, log),
	}

	st := newFakeStore()
	o := New(cfg, st, schema.New(log), httpExtractors, nil, gate, reg, log)

	_, entry, err := o.TryRunETL(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, 1, entry.ThrottleEvents, "the throttled acquire during this run's fetch phase should be counted")
}

// TestTryRunETL_ResumedRunReplacesItsOwnPartialSuccessLedgerEntry drives two
// full TryRunETL passes through the same adopted runId: the first fails
// partway (partial_success), the second resumes and completes. It exists
// to catch the scenario where WriteEntry appends a second etlruns document
// under the same run_id instead of replacing the first, which would also
// leave the stale partial_success document perpetually rediscoverable by
// LatestIncompleteRunID.
func TestTryRunETL_ResumedRunReplacesItsOwnPartialSuccessLedgerEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"symbol":"BTC","name":"Bitcoin","price_usd":100,"volume_24h":1,"timestamp":"2026-01-01T00:00:00Z"},
			{"symbol":"ETH","name":"Ethereum","price_usd":200,"volume_24h":2,"timestamp":"2026-01-01T00:01:00Z"},
			{"symbol":"SOL","name":"Solana","price_usd":300,"volume_24h":3,"timestamp":"2026-01-01T00:02:00Z"}
		]`))
	}))
	defer server.Close()

	cfg := testConfig(5, false)
	reg := metrics.New()
	log := testLogger()
	gate := ratelimit.New(cfg.RateLimits, reg, log)

	httpExtractors := map[models.Source]*extract.HTTPExtractor{
		models.SourceA: extract.NewHTTPExtractor(models.SourceA, config.SourceHTTPConfig{URL: server.URL}, gate, reg, log),
	}

	st := newFakeStore()
	st.upsertFails[models.SourceA] = 1 // fails the first row of the first pass only

	o := New(cfg, st, schema.New(log), httpExtractors, nil, gate, reg, log)

	_, firstEntry, err := o.TryRunETL(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.RunPartialSuccess, firstEntry.Status)

	_, secondEntry, err := o.TryRunETL(context.Background())
	require.NoError(t, err)
	require.Equal(t, secondEntry.RunID, firstEntry.RunID, "the second pass must adopt the first pass's runId")
	assert.Equal(t, models.RunSuccess, secondEntry.Status)

	assert.Len(t, st.runs, 1, "the resumed run must replace its own ledger entry, not append a second one")
	stored := st.runs[firstEntry.RunID]
	require.NotNil(t, stored)
	assert.Equal(t, models.RunSuccess, stored.Status, "the stored entry must reflect the resumed run's final status, not the stale partial_success")

	_, found, err := st.LatestIncompleteRunID(context.Background())
	require.NoError(t, err)
	assert.False(t, found, "a completed run must no longer be rediscoverable as incomplete")
}
