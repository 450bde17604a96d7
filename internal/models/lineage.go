package models

import "time"

// LineageRecord traces one source field through its transformations to a
// target location. Records are append-only and carry content hashes rather
// than raw values so provenance can be proven without persisting PHI.
type LineageRecord struct {
	ID           string    `json:"id"`
	BatchID      string    `json:"batch_id"`
	SourceFile   string    `json:"source_file"`
	SourceRow    int       `json:"source_row"`
	SourceColumn string    `json:"source_column"`
	SourceHash   string    `json:"source_hash"`
	TargetTable  string    `json:"target_table"`
	TargetColumn string    `json:"target_column"`
	TargetRowID  string    `json:"target_row_id,omitempty"`
	TargetHash   string    `json:"target_hash"`
	Steps        []string  `json:"transformation_steps"`
	Valid        bool      `json:"valid"`
	Errors       []string  `json:"errors,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot lifecycle states.
const (
	SnapshotStatusActive   = "active"
	SnapshotStatusRestored = "restored"
	SnapshotStatusExpired  = "expired"
	SnapshotStatusDeleted  = "deleted"
)

// Snapshot types.
const (
	SnapshotTypePreMigration  = "pre_migration"
	SnapshotTypeCheckpoint    = "checkpoint"
	SnapshotTypePostMigration = "post_migration"
	SnapshotTypeManual        = "manual"
)

// Snapshot is a captured copy of table contents usable to restore prior
// state. A snapshot is consumed by at most one rollback, after which its
// status becomes restored.
type Snapshot struct {
	ID          string     `json:"id"`
	BatchID     *string    `json:"batch_id,omitempty"`
	Type        string     `json:"type"`
	Tables      []string   `json:"tables"`
	TotalRows   int64      `json:"total_rows"`
	SizeBytes   int64      `json:"size_bytes"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RestoredAt  *time.Time `json:"restored_at,omitempty"`
}

// RollbackResult reports the outcome of restoring a snapshot. A failed
// rollback is returned as a structured result, never swallowed, because it
// implies the target may be inconsistent.
type RollbackResult struct {
	Success      bool   `json:"success"`
	RowsRestored int64  `json:"rows_restored"`
	RowsDeleted  int64  `json:"rows_deleted"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}
