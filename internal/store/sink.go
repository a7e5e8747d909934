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

// UpsertResult is the outcome of one RecordSink.Upsert call.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	MatchedExisting
)

func naturalKeyFilter(key models.NaturalKey) bson.M {
	return bson.M{"symbol": key.Symbol, "timestamp": key.Timestamp, "source": key.Source}
}

// Upsert writes record into both the raw and normalized collections under
// its NaturalKey filter. A unique-index violation on either write is
// treated as MatchedExisting, per the idempotent-write contract.
func (s *Store) Upsert(ctx context.Context, record *models.UnifiedRecord, runID string) (UpsertResult, error) {
	filter := naturalKeyFilter(record.Key())
	now := time.Now().UTC()

	rawDoc := bson.M{
		"symbol":              record.Symbol,
		"name":                record.Name,
		"price_usd":           record.PriceUSD,
		"volume_24h":          record.Volume24h,
		"market_cap":          record.MarketCap,
		"percent_change_24h":  record.PercentChange24h,
		"timestamp":           record.Timestamp,
		"source":              record.Source,
		"raw_data":            record.RawData,
		"run_id":              runID,
	}
	normalizedDoc := bson.M{
		"symbol":             record.Symbol,
		"name":               record.Name,
		"price_usd":          record.PriceUSD,
		"volume_24h":         record.Volume24h,
		"market_cap":         record.MarketCap,
		"percent_change_24h": record.PercentChange24h,
		"timestamp":          record.Timestamp,
		"source":             record.Source,
	}

	rawResult, err := s.rawColl().UpdateOne(ctx, filter,
		bson.M{"$set": rawDoc, "$setOnInsert": bson.M{"created_at": now}},
		options.Update().SetUpsert(true))
	matched := false
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("failed to upsert raw record: %w", err)
		}
		matched = true
	} else if rawResult.UpsertedCount == 0 {
		matched = true
	}

	normResult, err := s.normalizedColl().UpdateOne(ctx, filter,
		bson.M{"$set": normalizedDoc, "$setOnInsert": bson.M{"created_at": now}},
		options.Update().SetUpsert(true))
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("failed to upsert normalized record: %w", err)
		}
		matched = true
	} else if normResult.UpsertedCount == 0 {
		matched = true
	}

	if matched {
		return MatchedExisting, nil
	}
	return Inserted, nil
}

// Query paginates the normalized collection with a cursor-based scheme:
// the cursor encodes the last seen (sortByVal, id) pair so callers resume
// exactly where they left off regardless of intervening writes.
func (s *Store) Query(ctx context.Context, filter bson.M, limit int64, skip int64) ([]models.UnifiedRecord, error) {
	opts := options.Find().SetLimit(limit).SetSkip(skip).SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.normalizedColl().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query normalized records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.UnifiedRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode normalized records: %w", err)
	}
	return records, nil
}

// CountRaw and CountNormalized back the /stats endpoint's counts envelope.
func (s *Store) CountRaw(ctx context.Context) (int64, error) {
	return s.rawColl().CountDocuments(ctx, bson.M{})
}

func (s *Store) CountNormalized(ctx context.Context) (int64, error) {
	return s.normalizedColl().CountDocuments(ctx, bson.M{})
}
