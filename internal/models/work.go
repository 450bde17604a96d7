package models

import "time"

// RetryQueueItem statuses. succeeded, exhausted, and cancelled are terminal.
const (
	RetryStatusPending   = "pending"
	RetryStatusRetrying  = "retrying"
	RetryStatusSucceeded = "succeeded"
	RetryStatusExhausted = "exhausted"
	RetryStatusCancelled = "cancelled"
)

// RetryOpBulkInsert is a failed chunk insert whose payload carries the staged
// columns and rows for replay.
const RetryOpBulkInsert = "bulk_insert"

// RetryQueueItem is a durable record of a failed operation awaiting retry
// with exponential backoff.
type RetryQueueItem struct {
	ID           string         `json:"id"`
	BatchID      string         `json:"batch_id"`
	Operation    string         `json:"operation"`
	TargetTable  string         `json:"target_table"`
	AffectedRows []int          `json:"affected_rows"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
	Payload      map[string]any `json:"payload,omitempty"`
	Attempt      int            `json:"attempt"`
	MaxAttempts  int            `json:"max_attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Work item types for a partitioned table load.
const (
	WorkTypeExtract   = "extract"
	WorkTypeTransform = "transform"
	WorkTypeValidate  = "validate"
	WorkTypeLoad      = "load"
	WorkTypeIndex     = "index"
)

// Work item statuses. At most one worker may hold assigned/processing.
const (
	WorkStatusPending    = "pending"
	WorkStatusAssigned   = "assigned"
	WorkStatusProcessing = "processing"
	WorkStatusCompleted  = "completed"
	WorkStatusFailed     = "failed"
	WorkStatusCancelled  = "cancelled"
)

// WorkItem is one claimable unit of a partitioned table load covering the
// half-open row range [RangeStart, RangeEnd).
type WorkItem struct {
	ID             string    `json:"id"`
	BatchID        string    `json:"batch_id"`
	Type           string    `json:"type"`
	TargetTable    string    `json:"target_table"`
	RangeStart     int       `json:"range_start"`
	RangeEnd       int       `json:"range_end"`
	DependsOn      []string  `json:"depends_on,omitempty"`
	AssignedTo     *string   `json:"assigned_to,omitempty"`
	Priority       int       `json:"priority"`
	ExecutionOrder int       `json:"execution_order"`
	Status         string    `json:"status"`
	RowsProcessed  int       `json:"rows_processed"`
	RowsSucceeded  int       `json:"rows_succeeded"`
	RowsFailed     int       `json:"rows_failed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Worker statuses.
const (
	WorkerStatusIdle       = "idle"
	WorkerStatusProcessing = "processing"
	WorkerStatusPaused     = "paused"
	WorkerStatusError      = "error"
	WorkerStatusShutdown   = "shutdown"
)

// Worker is a registered migration worker process. A worker whose heartbeat
// goes stale beyond the liveness window is considered dead and its claimed
// work becomes eligible for re-claim.
type Worker struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	CurrentItem   *string   `json:"current_item,omitempty"`
	RowsProcessed int64     `json:"rows_processed"`
	RowsFailed    int64     `json:"rows_failed"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}
