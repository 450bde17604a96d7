package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
)

// Step statuses inside an execution's per-table map.
const (
	stepPending   = "pending"
	stepCompleted = "completed"
)

// store is the slice of the datastore the orchestrator needs.
type store interface {
	GetWorkflowTemplate(ctx context.Context, idOrName string) (models.WorkflowTemplate, error)
	InsertWorkflowExecution(ctx context.Context, e models.WorkflowExecution) error
	GetWorkflowExecution(ctx context.Context, id string) (models.WorkflowExecution, error)
	UpdateWorkflowExecution(ctx context.Context, e models.WorkflowExecution) error
}

// Orchestrator sequences table loads according to a dependency graph from a
// named template. A step becomes runnable only when every table it depends on
// has completed.
type Orchestrator struct {
	store  store
	logger *zap.Logger
}

func NewOrchestrator(s store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: s, logger: logger}
}

// GetTemplate resolves a template by id or unique name.
func (o *Orchestrator) GetTemplate(ctx context.Context, idOrName string) (models.WorkflowTemplate, error) {
	return o.store.GetWorkflowTemplate(ctx, idOrName)
}

// CreateExecution starts tracking a run of the template: every table starts
// pending and the execution is running.
func (o *Orchestrator) CreateExecution(ctx context.Context, batchID string, template models.WorkflowTemplate) (string, error) {
	status := make(map[string]string, len(template.Steps))
	for _, step := range template.Steps {
		status[step.Table] = stepPending
	}
	exec := models.WorkflowExecution{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		TemplateID:  template.ID,
		StepStatus:  status,
		CurrentStep: 0,
		Status:      models.WorkflowStatusRunning,
	}
	if err := o.store.InsertWorkflowExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}
	o.logger.Info("workflow execution created",
		zap.String("execution_id", exec.ID),
		zap.String("template", template.Name),
		zap.Int("steps", len(template.Steps)))
	return exec.ID, nil
}

// GetNextStep returns the first step in template order that is still pending
// and whose dependencies have all completed. A nil step with nil error means
// nothing is runnable right now: either an upstream table is still in
// progress (callers re-poll with backoff) or the execution has finished.
func (o *Orchestrator) GetNextStep(ctx context.Context, executionID string) (*models.WorkflowStep, error) {
	exec, err := o.store.GetWorkflowExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	template, err := o.store.GetWorkflowTemplate(ctx, exec.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	for _, step := range template.Steps {
		if exec.StepStatus[step.Table] != stepPending {
			continue
		}
		runnable := true
		for _, dep := range step.DependsOn {
			if exec.StepStatus[dep] != stepCompleted {
				runnable = false
				break
			}
		}
		if runnable {
			s := step
			return &s, nil
		}
	}
	return nil, nil
}

// CompleteStep marks one table completed and advances the execution. When
// every table is completed the whole execution completes.
func (o *Orchestrator) CompleteStep(ctx context.Context, executionID, table string) error {
	exec, err := o.store.GetWorkflowExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	if _, ok := exec.StepStatus[table]; !ok {
		return fmt.Errorf("table %q is not part of execution %s", table, executionID)
	}

	exec.StepStatus[table] = stepCompleted
	exec.CurrentStep++

	done := true
	for _, status := range exec.StepStatus {
		if status != stepCompleted {
			done = false
			break
		}
	}
	if done {
		exec.Status = models.WorkflowStatusCompleted
	}

	if err := o.store.UpdateWorkflowExecution(ctx, exec); err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	o.logger.Info("workflow step completed",
		zap.String("execution_id", executionID),
		zap.String("table", table),
		zap.Bool("execution_done", done))
	return nil
}
