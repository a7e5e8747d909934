package schema

import (
	"encoding/json"
	"fmt"
	"os"
)

// staticAliases is the canonical alias table, confidence 1.0, unioning the
// variants that existed across source files (with and without
// created_at/price_timestamp).
var staticAliases = map[string]string{
	"time":            "timestamp",
	"ticker":          "symbol",
	"usd_price":       "price_usd",
	"tx_volume":       "volume_24h",
	"created_at":      "timestamp",
	"price_timestamp": "timestamp",
}

// UnifiedFields are the target fields every source is reconciled against.
var UnifiedFields = []string{
	"symbol", "name", "price_usd", "volume_24h",
	"market_cap", "percent_change_24h", "timestamp", "source",
}

// LoadAliasOverrides merges a JSON object of source-field-name ->
// unified-field-name pairs from path into the static alias table, letting
// an operator extend alias coverage for a new source without a code
// change. A blank path is a no-op.
func LoadAliasOverrides(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema alias overrides %s: %w", path, err)
	}

	var overrides map[string]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse schema alias overrides %s: %w", path, err)
	}

	for from, to := range overrides {
		staticAliases[from] = to
	}
	return nil
}

// staticAlias reports whether from and to are linked by the static alias
// table, checked in either direction, or are the same name.
func staticAlias(from, to string) bool {
	if target, ok := staticAliases[from]; ok && target == to {
		return true
	}
	if target, ok := staticAliases[to]; ok && target == from {
		return true
	}
	return from == to
}
