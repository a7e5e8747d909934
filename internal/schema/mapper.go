// Package schema reconciles evolving source field names against the fixed
// unified schema, using fuzzy matching with confidence tiers.
package schema

import (
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

const (
	applyThreshold      = 0.8
	quarantineThreshold = 0.5
)

// Mapper holds the last observed schema per source and the mapping table
// it applies to subsequent rows of that source within a run.
type Mapper struct {
	mu        sync.Mutex
	snapshots map[models.Source]models.SchemaSnapshot
	active    map[models.Source]map[string]string // source field -> unified field, applied only
	logger    *logrus.Entry
}

// New builds an empty Mapper; every source starts with no stored schema, so
// its first DetectDrift call is a no-op bump to version 1.
func New(logger *logrus.Logger) *Mapper {
	return &Mapper{
		snapshots: make(map[models.Source]models.SchemaSnapshot),
		active:    make(map[models.Source]map[string]string),
		logger:    logger.WithField("component", "schema-mapper"),
	}
}

// DetectDrift compares the current representative record's field set and
// per-field scalar types against the stored schema for source, and
// classifies any removed field's best replacement by confidence tier.
func (m *Mapper) DetectDrift(source models.Source, firstRecord models.RawRecord) models.DriftResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := snapshotOf(source, firstRecord)
	prior, hadPrior := m.snapshots[source]

	result := models.DriftResult{SchemaVersion: 1}
	if hadPrior {
		result.SchemaVersion = prior.Version
	}

	if !hadPrior {
		m.snapshots[source] = current
		m.active[source] = identityMapping(current.Fields)
		return result
	}

	if structurallyEqual(prior, current) {
		return result
	}

	result.Changed = true
	result.SchemaVersion = prior.Version + 1

	removed := setMinus(prior.FieldSet(), current.FieldSet())
	added := setMinus(current.FieldSet(), prior.FieldSet())

	mapping := make(map[string]string)
	for field := range prior.Fields {
		if _, stillPresent := current.Fields[field]; stillPresent {
			mapping[field] = aliasOrSelf(field)
		}
	}

	for removedField := range removed {
		bestTarget := ""
		bestScore := 0.0
		for addedField := range added {
			score := similarity(addedField, removedField)
			if score > bestScore {
				bestScore = score
				bestTarget = addedField
			}
		}
		if bestTarget == "" || bestScore == 0 {
			continue
		}

		applied := models.AppliedMapping{From: removedField, To: bestTarget, Confidence: bestScore}
		switch {
		case bestScore >= applyThreshold:
			result.AppliedMappings = append(result.AppliedMappings, applied)
			unified := aliasOrSelf(removedField)
			if prev, ok := m.active[source][removedField]; ok {
				unified = prev
			}
			mapping[bestTarget] = unified
		case bestScore >= quarantineThreshold:
			result.QuarantinedMappings = append(result.QuarantinedMappings, applied)
		default:
			result.SkippedMappings = append(result.SkippedMappings, applied)
		}
	}

	current.Version = result.SchemaVersion
	m.snapshots[source] = current
	m.active[source] = mapping

	return result
}

// MapRow renames row's fields according to the active mapping for source
// (falling back to the field's own name when no mapping exists), then
// coerces the unified numeric fields. Quarantined/skipped fields are never
// applied, so their unified counterpart is absent.
func (m *Mapper) MapRow(source models.Source, row models.RawRecord) (models.RawRecord, []models.AppliedMapping) {
	m.mu.Lock()
	mapping := m.active[source]
	m.mu.Unlock()

	mapped := make(models.RawRecord, len(row))
	var log []models.AppliedMapping

	for field, value := range row {
		target := field
		if mapping != nil {
			if t, ok := mapping[field]; ok {
				target = t
			} else if t, ok := staticAliases[field]; ok {
				target = t
			}
		} else if t, ok := staticAliases[field]; ok {
			target = t
		}
		if target != field {
			log = append(log, models.AppliedMapping{From: field, To: target, Confidence: 1.0})
		}
		mapped[target] = value
	}

	for _, numericField := range []string{"price_usd", "volume_24h", "market_cap", "percent_change_24h"} {
		if raw, ok := mapped[numericField]; ok {
			mapped[numericField] = coerceNumeric(raw)
		}
	}

	return mapped, log
}

// coerceNumeric strips currency/formatting noise from a string and parses
// it as a real, yielding nil (absent to the validator downstream) when the
// parse fails; an already-numeric value passes through, and any other type
// also yields nil.
func coerceNumeric(raw interface{}) interface{} {
	switch v := raw.(type) {
	case string:
		cleaned := strings.Map(func(r rune) rune {
			switch r {
			case '$', ',':
				return -1
			}
			return r
		}, v)
		cleaned = strings.TrimSpace(cleaned)
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		return parsed
	case float64, int, int64:
		return v
	default:
		return nil
	}
}

func snapshotOf(source models.Source, record models.RawRecord) models.SchemaSnapshot {
	fields := make(map[string]models.ScalarType, len(record))
	for field, value := range record {
		fields[field] = scalarTypeOf(value)
	}
	return models.SchemaSnapshot{Source: source, Version: 1, Fields: fields}
}

func scalarTypeOf(v interface{}) models.ScalarType {
	switch v.(type) {
	case string:
		return models.ScalarString
	case float64, int, int64, float32:
		return models.ScalarNumber
	case bool:
		return models.ScalarBool
	default:
		return models.ScalarUnknown
	}
}

func structurallyEqual(a, b models.SchemaSnapshot) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for field, typeA := range a.Fields {
		typeB, ok := b.Fields[field]
		if !ok || typeA != typeB {
			return false
		}
	}
	return true
}

func identityMapping(fields map[string]models.ScalarType) map[string]string {
	m := make(map[string]string, len(fields))
	for f := range fields {
		m[f] = aliasOrSelf(f)
	}
	return m
}

// aliasOrSelf resolves field through the static alias table first, matching
// similarity()'s own evaluation order, falling back to the field's own name.
func aliasOrSelf(field string) string {
	if target, ok := staticAliases[field]; ok {
		return target
	}
	return field
}

func setMinus(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, inB := b[k]; !inB {
			out[k] = struct{}{}
		}
	}
	return out
}
