// Package store wraps the document store the pipeline persists through:
// raw and normalized crypto snapshots, checkpoints, and the run ledger.
package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ingestpipe/ingestpipe/pkg/config"
	pkglogger "github.com/ingestpipe/ingestpipe/pkg/logger"
)

const (
	collRaw         = "raw_crypto_data"
	collNormalized  = "normalized_crypto_data"
	collRuns        = "etlruns"
	collCheckpoints = "etlcheckpoints"
	collSummaries   = "etl_summaries"
)

// Store is the constructor-wrapper grounded on the teacher's MySQL/Redis
// client shape: build options, probe connectivity, expose Health/Close,
// log each step verbosely.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *logrus.Entry
}

// New connects to Mongo and verifies reachability before returning.
func New(cfg *config.MongoConfig, logger *logrus.Logger) (*Store, error) {
	log := pkglogger.WithComponent(logger, "store")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	log.WithField("uri", cfg.URI).Info("Connecting to document store")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	log.Info("Document store connection established")

	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: log,
	}, nil
}

// Health pings the document store.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the document store client.
func (s *Store) Close(ctx context.Context) error {
	s.logger.Info("Closing document store connection")
	return s.client.Disconnect(ctx)
}

func (s *Store) rawColl() *mongo.Collection         { return s.db.Collection(collRaw) }
func (s *Store) normalizedColl() *mongo.Collection  { return s.db.Collection(collNormalized) }
func (s *Store) runsColl() *mongo.Collection        { return s.db.Collection(collRuns) }
func (s *Store) checkpointsColl() *mongo.Collection { return s.db.Collection(collCheckpoints) }
func (s *Store) summariesColl() *mongo.Collection   { return s.db.Collection(collSummaries) }

// EnsureIndexes creates the unique NaturalKey indexes on both collections,
// plus the secondary indexes the external interfaces rely on. Safe to call
// repeatedly — index creation is idempotent by name.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	naturalKeyIndex := mongo.IndexModel{
		Keys: map[string]interface{}{
			"symbol":    1,
			"timestamp": 1,
			"source":    1,
		},
		Options: options.Index().SetUnique(true).SetName("natural_key_unique"),
	}

	s.logger.Info("Ensuring natural key indexes")
	if _, err := s.rawColl().Indexes().CreateOne(ctx, naturalKeyIndex); err != nil {
		return fmt.Errorf("failed to create raw collection index: %w", err)
	}
	if _, err := s.normalizedColl().Indexes().CreateOne(ctx, naturalKeyIndex); err != nil {
		return fmt.Errorf("failed to create normalized collection index: %w", err)
	}

	secondaryIndexes := []mongo.IndexModel{
		{Keys: map[string]interface{}{"timestamp": -1}, Options: options.Index().SetName("timestamp_desc")},
		{Keys: map[string]interface{}{"source": 1}, Options: options.Index().SetName("source_idx")},
	}
	if _, err := s.normalizedColl().Indexes().CreateMany(ctx, secondaryIndexes); err != nil {
		return fmt.Errorf("failed to create normalized secondary indexes: %w", err)
	}

	checkpointIndex := mongo.IndexModel{
		Keys:    map[string]interface{}{"run_id": 1, "source": 1},
		Options: options.Index().SetUnique(true).SetName("run_source_unique"),
	}
	if _, err := s.checkpointsColl().Indexes().CreateOne(ctx, checkpointIndex); err != nil {
		return fmt.Errorf("failed to create checkpoint index: %w", err)
	}

	runsIndexes := []mongo.IndexModel{
		{Keys: map[string]interface{}{"end_time": -1}, Options: options.Index().SetName("end_time_desc")},
		{Keys: map[string]interface{}{"run_id": 1}, Options: options.Index().SetUnique(true).SetName("run_id_unique")},
	}
	if _, err := s.runsColl().Indexes().CreateMany(ctx, runsIndexes); err != nil {
		return fmt.Errorf("failed to create runs index: %w", err)
	}

	return nil
}
