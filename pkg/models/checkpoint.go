package models

import "time"

// Checkpoint records how far a single source has progressed within a run,
// as a count of records consumed (not an index into the sequence).
type Checkpoint struct {
	RunID             string    `bson:"run_id"`
	Source            Source    `bson:"source"`
	LastProcessedIndex int      `bson:"last_processed_index"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

// BatchID is the compound key the teacher's checkpoint table used
// (runId+source concatenated); kept only as a derived convenience, the
// collection's real unique key is the (run_id, source) pair.
func (c Checkpoint) BatchID() string {
	return c.RunID + ":" + string(c.Source)
}
