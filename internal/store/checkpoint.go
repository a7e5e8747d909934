package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// SaveCheckpoint upserts lastProcessedIndex for (runId, source). This MUST
// be called only after the corresponding batch's record writes are
// durable — it is the sole guarantee that permits correct resume.
func (s *Store) SaveCheckpoint(ctx context.Context, runID string, source models.Source, lastProcessedIndex int) error {
	filter := bson.M{"run_id": runID, "source": source}
	update := bson.M{"$set": bson.M{
		"last_processed_index": lastProcessedIndex,
		"updated_at":           time.Now().UTC(),
	}}

	_, err := s.checkpointsColl().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for run %s source %s: %w", runID, source, err)
	}
	return nil
}

// GetCheckpoint returns the stored lastProcessedIndex, or 0 if absent.
func (s *Store) GetCheckpoint(ctx context.Context, runID string, source models.Source) (int, error) {
	var doc models.Checkpoint
	err := s.checkpointsColl().FindOne(ctx, bson.M{"run_id": runID, "source": source}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read checkpoint for run %s source %s: %w", runID, source, err)
	}
	return doc.LastProcessedIndex, nil
}

// ClearCheckpoints removes every checkpoint tagged with runID, called once
// a run completes in full success.
func (s *Store) ClearCheckpoints(ctx context.Context, runID string) error {
	_, err := s.checkpointsColl().DeleteMany(ctx, bson.M{"run_id": runID})
	if err != nil {
		return fmt.Errorf("failed to clear checkpoints for run %s: %w", runID, err)
	}
	return nil
}

// LatestIncompleteRunID returns the runId of the most recent run left in
// partial_success, so the orchestrator can adopt it instead of starting a
// fresh run whose checkpoints nothing will ever consult (resolves the
// resume-key open question: resume stays keyed by (runId, source), and the
// orchestrator is the one place that decides to reuse a stale runId).
func (s *Store) LatestIncompleteRunID(ctx context.Context) (string, bool, error) {
	opts := options.FindOne().SetSort(bson.M{"start_time": -1})

	var doc struct {
		RunID string `bson:"run_id"`
	}
	err := s.runsColl().FindOne(ctx, bson.M{"status": models.RunPartialSuccess}, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up incomplete runs: %w", err)
	}
	return doc.RunID, true, nil
}
