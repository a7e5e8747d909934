// Package validate checks raw extracted rows against the unified schema's
// type/range/enum rules before they reach the record sink.
package validate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// Validator applies the unified-schema rules of the data model.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate converts a mapped row into a UnifiedRecord, or returns an error
// describing the first rule it fails.
func (v *Validator) Validate(source models.Source, row models.RawRecord) (*models.UnifiedRecord, error) {
	symbol, ok := asString(row["symbol"])
	if !ok || symbol == "" || len(symbol) > 20 {
		return nil, fmt.Errorf("symbol missing or invalid: %v", row["symbol"])
	}

	name, ok := asString(row["name"])
	if !ok || name == "" {
		return nil, fmt.Errorf("name missing or invalid: %v", row["name"])
	}
	if len(name) > 100 {
		name = name[:100]
	}

	priceUSD, ok := asFloat(row["price_usd"])
	if !ok || priceUSD <= 0 {
		return nil, fmt.Errorf("price_usd must be strictly positive, got %v", row["price_usd"])
	}

	volume24h, ok := asFloat(row["volume_24h"])
	if !ok || volume24h < 0 {
		return nil, fmt.Errorf("volume_24h must be non-negative, got %v", row["volume_24h"])
	}

	if !source.Valid() {
		return nil, fmt.Errorf("source must be one of A, B, C, got %q", source)
	}

	ts, err := parseTimestamp(row["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("timestamp invalid: %w", err)
	}

	record := &models.UnifiedRecord{
		Symbol:    symbol,
		Name:      name,
		PriceUSD:  priceUSD,
		Volume24h: volume24h,
		Timestamp: ts,
		Source:    source,
	}

	if marketCap, ok := asFloat(row["market_cap"]); ok && marketCap >= 0 {
		record.MarketCap = &marketCap
	}
	if pctChange, ok := asFloat(row["percent_change_24h"]); ok {
		record.PercentChange24h = &pctChange
	}

	return record, nil
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// parseTimestamp accepts ISO-8601 or epoch seconds; a fractional part of
// the seconds (milliseconds and below) is kept.
func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC(), nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC(), nil
		}
		if seconds, err := strconv.ParseFloat(t, 64); err == nil {
			return epochToTime(seconds), nil
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp string: %q", t)
	case float64:
		return epochToTime(t), nil
	case int64:
		return epochToTime(float64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("unparseable timestamp value: %v", v)
	}
}

func epochToTime(seconds float64) time.Time {
	whole := int64(seconds)
	frac := seconds - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}
