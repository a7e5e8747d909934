package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Source identifies which upstream provider a record came from.
type Source string

const (
	SourceA Source = "A"
	SourceB Source = "B"
	SourceC Source = "C"
)

// Valid reports whether s is one of the three configured sources.
func (s Source) Valid() bool {
	switch s {
	case SourceA, SourceB, SourceC:
		return true
	default:
		return false
	}
}

// RawRecord is the verbatim, dynamically-shaped payload fetched from a
// source before unification — a bag of scalar fields keyed by the source's
// own field names.
type RawRecord map[string]interface{}

// NaturalKey is the unique identity of a market snapshot: symbol + timestamp
// + source. It is the filter used for every idempotent upsert.
type NaturalKey struct {
	Symbol    string    `bson:"symbol"`
	Timestamp time.Time `bson:"timestamp"`
	Source    Source    `bson:"source"`
}

// UnifiedRecord is the canonical shape written to both the raw and
// normalized collections.
type UnifiedRecord struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Symbol            string             `bson:"symbol" json:"symbol"`
	Name              string             `bson:"name" json:"name"`
	PriceUSD          float64            `bson:"price_usd" json:"price_usd"`
	Volume24h         float64            `bson:"volume_24h" json:"volume_24h"`
	MarketCap         *float64           `bson:"market_cap,omitempty" json:"market_cap,omitempty"`
	PercentChange24h  *float64           `bson:"percent_change_24h,omitempty" json:"percent_change_24h,omitempty"`
	Timestamp         time.Time          `bson:"timestamp" json:"timestamp"`
	Source            Source             `bson:"source" json:"source"`
	RawData           RawRecord          `bson:"raw_data,omitempty" json:"raw_data,omitempty"`
	RunID             string             `bson:"run_id,omitempty" json:"run_id,omitempty"`
	CreatedAt         time.Time          `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// Key returns the record's NaturalKey.
func (r *UnifiedRecord) Key() NaturalKey {
	return NaturalKey{Symbol: r.Symbol, Timestamp: r.Timestamp, Source: r.Source}
}
