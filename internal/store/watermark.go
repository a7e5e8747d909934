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

// Watermark returns the latest timestamp already persisted for source, or
// the zero time and false if the source has never been ingested.
func (s *Store) Watermark(ctx context.Context, source models.Source) (time.Time, bool, error) {
	opts := options.FindOne().SetSort(bson.M{"timestamp": -1})

	var doc struct {
		Timestamp time.Time `bson:"timestamp"`
	}
	err := s.normalizedColl().FindOne(ctx, bson.M{"source": source}, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read watermark for source %s: %w", source, err)
	}

	return doc.Timestamp, true, nil
}
