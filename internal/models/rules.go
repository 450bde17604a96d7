package models

import "time"

// Conditional rule condition types.
const (
	ConditionValueEquals  = "value_equals"
	ConditionValueIn      = "value_in"
	ConditionValueMatches = "value_matches"
	ConditionValueRange   = "value_range"
	ConditionValueNull    = "value_null"
	ConditionValueNotNull = "value_not_null"
)

// Conditional rule action types.
const (
	ActionMapToTable  = "map_to_table"
	ActionMapToColumn = "map_to_column"
	ActionTransform   = "transform"
	ActionSkip        = "skip"
	ActionFlagReview  = "flag_review"
	ActionSplit       = "split"
)

// ConditionalMappingRule overrides or suppresses a field mapping for records
// matching its condition. Rules for a column are evaluated in priority order,
// ascending, and the first match wins.
type ConditionalMappingRule struct {
	ID              string         `json:"id"`
	SourceColumn    string         `json:"source_column"`
	ConditionType   string         `json:"condition_type"`
	ConditionConfig map[string]any `json:"condition_config"`
	ActionType      string         `json:"action_type"`
	ActionConfig    map[string]any `json:"action_config"`
	Priority        int            `json:"priority"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Workflow execution statuses.
const (
	WorkflowStatusPending   = "pending"
	WorkflowStatusRunning   = "running"
	WorkflowStatusCompleted = "completed"
)

// WorkflowStep is one table load in a workflow template. The step becomes
// eligible only when every table in DependsOn has completed.
type WorkflowStep struct {
	Table     string   `json:"table"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// WorkflowTemplate is a named, ordered list of steps.
type WorkflowTemplate struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Steps     []WorkflowStep `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
}

// WorkflowExecution tracks per-table progress of one template run.
type WorkflowExecution struct {
	ID          string            `json:"id"`
	BatchID     string            `json:"batch_id"`
	TemplateID  string            `json:"template_id"`
	StepStatus  map[string]string `json:"step_status"`
	CurrentStep int               `json:"current_step"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
