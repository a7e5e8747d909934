package schema

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestpipe/ingestpipe/pkg/models"
)

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDetectDrift_FirstObservationIsNotChange(t *testing.T) {
	m := New(newTestLogger())

	result := m.DetectDrift(models.SourceA, models.RawRecord{
		"symbol": "BTC", "price_usd": 1.0,
	})

	assert.False(t, result.Changed)
	assert.Equal(t, 1, result.SchemaVersion)
}

func TestDetectDrift_RenamedFieldIsAutoMapped(t *testing.T) {
	m := New(newTestLogger())

	m.DetectDrift(models.SourceA, models.RawRecord{
		"symbol": "BTC", "usd_price": 1.0, "tx_volume": 2.0,
	})

	result := m.DetectDrift(models.SourceA, models.RawRecord{
		"symbol": "BTC", "price_usd": 1.0, "tx_volume": 2.0,
	})

	require.True(t, result.Changed)
	assert.Equal(t, 2, result.SchemaVersion)
	require.Len(t, result.AppliedMappings, 1)
	assert.Equal(t, "usd_price", result.AppliedMappings[0].From)
	assert.Equal(t, "price_usd", result.AppliedMappings[0].To)

	mapped, log := m.MapRow(models.SourceA, models.RawRecord{
		"symbol": "BTC", "price_usd": 1.0, "tx_volume": 2.0,
	})
	assert.Contains(t, mapped, "price_usd")
	assert.NotEmpty(t, log)
}

func TestDetectDrift_UnrelatedRenameIsQuarantinedOrSkipped(t *testing.T) {
	m := New(newTestLogger())

	m.DetectDrift(models.SourceB, models.RawRecord{
		"symbol": "ETH", "weird_field_xyz": 1.0,
	})

	result := m.DetectDrift(models.SourceB, models.RawRecord{
		"symbol": "ETH", "completely_different": 1.0,
	})

	require.True(t, result.Changed)
	assert.Empty(t, result.AppliedMappings, "a near-zero-similarity rename must never auto-apply")
}

func TestMapRow_CoercesCurrencyFormattedNumerics(t *testing.T) {
	m := New(newTestLogger())
	m.DetectDrift(models.SourceC, models.RawRecord{"symbol": "BTC", "price_usd": "$1,234.56"})

	mapped, _ := m.MapRow(models.SourceC, models.RawRecord{
		"symbol": "BTC", "price_usd": "$1,234.56",
	})

	assert.InDelta(t, 1234.56, mapped["price_usd"], 0.001)
}

func TestMapRow_StaticAliasAppliesAfterFirstObservationSeedsIdentityMapping(t *testing.T) {
	m := New(newTestLogger())

	m.DetectDrift(models.SourceA, models.RawRecord{
		"ticker": "BTC", "usd_price": 1.0,
	})

	mapped, log := m.MapRow(models.SourceA, models.RawRecord{
		"ticker": "BTC", "usd_price": 1.0,
	})

	assert.Contains(t, mapped, "symbol")
	assert.Equal(t, "BTC", mapped["symbol"])
	assert.Contains(t, mapped, "price_usd")
	assert.NotEmpty(t, log)
}

func TestMapRow_StaticAliasAppliesWithoutPriorDrift(t *testing.T) {
	m := New(newTestLogger())

	mapped, log := m.MapRow(models.SourceA, models.RawRecord{
		"ticker": "BTC", "time": "2026-01-01T00:00:00Z",
	})

	assert.Contains(t, mapped, "symbol")
	assert.Contains(t, mapped, "timestamp")
	assert.NotEmpty(t, log)
}
