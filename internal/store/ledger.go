package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// WriteEntry upserts entry into the run ledger keyed by run_id, so that a
// run which resumes under an adopted runId (see beginRun) replaces its
// earlier partial_success document rather than appending a second one —
// satisfying "exactly one etlruns document per runId" even across resumes.
func (s *Store) WriteEntry(ctx context.Context, entry *models.RunLedgerEntry) error {
	filter := bson.M{"run_id": entry.RunID}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.runsColl().ReplaceOne(ctx, filter, entry, opts); err != nil {
		return fmt.Errorf("failed to write run ledger entry for run %s: %w", entry.RunID, err)
	}

	summary := &models.EtlSummary{
		RunID:   entry.RunID,
		EndTime: entry.EndTime,
		Status:  entry.Status,
	}
	for _, stats := range entry.SourceStats {
		summary.TotalFetched += stats.Fetched
		summary.TotalProcessed += stats.Processed
		summary.Skipped += stats.SkippedByWatermark
	}
	if _, err := s.summariesColl().InsertOne(ctx, summary); err != nil {
		return fmt.Errorf("failed to write run summary for run %s: %w", entry.RunID, err)
	}

	return nil
}

// ListRecent returns the most recent run ledger entries, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int64) ([]models.RunLedgerEntry, error) {
	opts := options.Find().SetSort(bson.M{"end_time": -1}).SetLimit(limit)
	cursor, err := s.runsColl().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent runs: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.RunLedgerEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode run ledger entries: %w", err)
	}
	return entries, nil
}

// GetByID returns one run ledger entry, or mongo.ErrNoDocuments if absent.
func (s *Store) GetByID(ctx context.Context, runID string) (*models.RunLedgerEntry, error) {
	var entry models.RunLedgerEntry
	err := s.runsColl().FindOne(ctx, bson.M{"run_id": runID}).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &entry, nil
}
