package models

import (
	"time"
)

// MigrationBatch statuses persisted in Postgres. A batch is terminal once it
// reaches completed or completed_with_errors.
const (
	BatchStatusDryRun              = "dry_run"
	BatchStatusProcessing          = "processing"
	BatchStatusCompleted           = "completed"
	BatchStatusCompletedWithErrors = "completed_with_errors"
)

// MigrationBatch identifies one migration run.
type MigrationBatch struct {
	ID           string     `json:"id"`
	SourceSystem string     `json:"source_system"`
	SourceFile   string     `json:"source_file,omitempty"`
	TotalRecords int        `json:"total_records"`
	SuccessCount int        `json:"success_count"`
	ErrorCount   int        `json:"error_count"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FieldMapping is one candidate mapping supplied by the external
// pattern-detection collaborator. It is untrusted input: values routed
// through it are still validated field by field before load.
type FieldMapping struct {
	SourceColumn string `json:"source_column"`
	TargetTable  string `json:"target_table"`
	TargetColumn string `json:"target_column"`
	TransformID  string `json:"transform_id,omitempty"`
}

// AuditEvent is a simple append-only audit row.
type AuditEvent struct {
	BatchID  string    `json:"batch_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
