package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_Valid(t *testing.T) {
	assert.True(t, SourceA.Valid())
	assert.True(t, SourceB.Valid())
	assert.True(t, SourceC.Valid())
	assert.False(t, Source("Z").Valid())
	assert.False(t, Source("").Valid())
}

func TestUnifiedRecord_Key(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &UnifiedRecord{Symbol: "BTC", Timestamp: ts, Source: SourceA}

	key := r.Key()
	assert.Equal(t, NaturalKey{Symbol: "BTC", Timestamp: ts, Source: SourceA}, key)
}

func TestNewRunLedgerEntry_SeedsEmptyMaps(t *testing.T) {
	entry := NewRunLedgerEntry("run-1", time.Now())

	assert.Equal(t, RunCreated, entry.Status)
	assert.NotNil(t, entry.SourceStats)
	assert.NotNil(t, entry.ResumeInfo)
	assert.NotNil(t, entry.SchemaVersion)
	assert.Empty(t, entry.SourceStats)
}

func TestSchemaSnapshot_FieldSet(t *testing.T) {
	snap := SchemaSnapshot{Fields: map[string]ScalarType{"a": ScalarString, "b": ScalarNumber}}
	set := snap.FieldSet()
	assert.Len(t, set, 2)
	_, hasA := set["a"]
	assert.True(t, hasA)
}
