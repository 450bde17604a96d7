package migration

import "migration-engine/internal/models"

// RowError describes one failed source row in the final report.
type RowError struct {
	Table   string `json:"table"`
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// EnterpriseMigrationResult is the complete outcome of one migration run,
// returned to the caller and serialized by the control-plane API.
type EnterpriseMigrationResult struct {
	BatchID                 string               `json:"batch_id"`
	TotalRecords            int                  `json:"total_records"`
	SuccessCount            int                  `json:"success_count"`
	ErrorCount              int                  `json:"error_count"`
	Errors                  []RowError           `json:"errors,omitempty"`
	SnapshotID              string               `json:"snapshot_id,omitempty"`
	LineageRecordsCreated   int                  `json:"lineage_records_created"`
	RetriesQueued           int                  `json:"retries_queued"`
	DuplicatesFound         int                  `json:"duplicates_found"`
	QualityScore            *models.QualityScore `json:"quality_score,omitempty"`
	WorkflowExecutionID     string               `json:"workflow_execution_id,omitempty"`
	ProcessingTimeMs        int64                `json:"processing_time_ms"`
	ThroughputRowsPerSecond float64              `json:"throughput_rows_per_second"`
}
