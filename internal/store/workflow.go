package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"migration-engine/internal/models"
)

// ErrTemplateNotFound is returned when no workflow template matches.
var ErrTemplateNotFound = errors.New("workflow template not found")

// InsertWorkflowTemplate persists a named workflow template.
func (s *Store) InsertWorkflowTemplate(ctx context.Context, t models.WorkflowTemplate) error {
	stepsJSON, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_templates (id, name, steps, created_at)
		VALUES ($1, $2, $3, NOW())
	`, t.ID, t.Name, stepsJSON)
	if err != nil {
		return fmt.Errorf("insert workflow template: %w", err)
	}
	return nil
}

// GetWorkflowTemplate looks a template up by id first, falling back to its
// unique name.
func (s *Store) GetWorkflowTemplate(ctx context.Context, idOrName string) (models.WorkflowTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, steps, created_at
		FROM workflow_templates
		WHERE id = $1 OR name = $1
		ORDER BY (id = $1) DESC
		LIMIT 1
	`, idOrName)

	var t models.WorkflowTemplate
	var stepsJSON []byte
	if err := row.Scan(&t.ID, &t.Name, &stepsJSON, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WorkflowTemplate{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, idOrName)
		}
		return models.WorkflowTemplate{}, fmt.Errorf("scan workflow template: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &t.Steps); err != nil {
		return models.WorkflowTemplate{}, fmt.Errorf("unmarshal steps: %w", err)
	}
	return t, nil
}

// InsertWorkflowExecution starts tracking a template run.
func (s *Store) InsertWorkflowExecution(ctx context.Context, e models.WorkflowExecution) error {
	statusJSON, err := json.Marshal(e.StepStatus)
	if err != nil {
		return fmt.Errorf("marshal step status: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_executions (id, batch_id, template_id, step_status, current_step, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, e.ID, e.BatchID, e.TemplateID, statusJSON, e.CurrentStep, e.Status)
	if err != nil {
		return fmt.Errorf("insert workflow execution: %w", err)
	}
	return nil
}

// GetWorkflowExecution fetches one execution by id.
func (s *Store) GetWorkflowExecution(ctx context.Context, id string) (models.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, batch_id, template_id, step_status, current_step, status, created_at, updated_at
		FROM workflow_executions WHERE id = $1
	`, id)

	var e models.WorkflowExecution
	var statusJSON []byte
	if err := row.Scan(&e.ID, &e.BatchID, &e.TemplateID, &statusJSON, &e.CurrentStep, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("scan workflow execution: %w", err)
	}
	if err := json.Unmarshal(statusJSON, &e.StepStatus); err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("unmarshal step status: %w", err)
	}
	return e, nil
}

// UpdateWorkflowExecution writes back step progress and overall status.
func (s *Store) UpdateWorkflowExecution(ctx context.Context, e models.WorkflowExecution) error {
	statusJSON, err := json.Marshal(e.StepStatus)
	if err != nil {
		return fmt.Errorf("marshal step status: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET step_status = $2, current_step = $3, status = $4, updated_at = NOW()
		WHERE id = $1
	`, e.ID, statusJSON, e.CurrentStep, e.Status)
	if err != nil {
		return fmt.Errorf("update workflow execution: %w", err)
	}
	return nil
}
