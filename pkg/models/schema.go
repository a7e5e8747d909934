package models

// ScalarType tags a field's observed runtime shape for drift comparison.
type ScalarType string

const (
	ScalarString  ScalarType = "string"
	ScalarNumber  ScalarType = "number"
	ScalarBool    ScalarType = "bool"
	ScalarUnknown ScalarType = "unknown"
)

// SchemaSnapshot is the last observed {fieldName -> ScalarType} shape for
// one source, used by the schema mapper to detect structural drift.
type SchemaSnapshot struct {
	Source  Source                `bson:"source"`
	Version int                   `bson:"version"`
	Fields  map[string]ScalarType `bson:"fields"`
}

// FieldSet returns the snapshot's field names, useful for the sorted-set
// structural comparison the drift detector performs.
func (s SchemaSnapshot) FieldSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Fields))
	for f := range s.Fields {
		set[f] = struct{}{}
	}
	return set
}

// DriftResult is returned by SchemaMapper.DetectDrift.
type DriftResult struct {
	SchemaVersion       int
	AppliedMappings     []AppliedMapping
	QuarantinedMappings []AppliedMapping
	SkippedMappings     []AppliedMapping
	Changed             bool
}
