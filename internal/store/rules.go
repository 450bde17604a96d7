package store

import (
	"context"
	"encoding/json"
	"fmt"

	"migration-engine/internal/models"
)

// InsertRule persists a conditional mapping rule.
func (s *Store) InsertRule(ctx context.Context, r models.ConditionalMappingRule) error {
	condJSON, err := json.Marshal(r.ConditionConfig)
	if err != nil {
		return fmt.Errorf("marshal condition config: %w", err)
	}
	actJSON, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return fmt.Errorf("marshal action config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conditional_mapping_rules (id, source_column, condition_type, condition_config, action_type, action_config, priority, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, r.ID, r.SourceColumn, r.ConditionType, condJSON, r.ActionType, actJSON, r.Priority, r.Active)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// ActiveRulesForColumn returns active rules for a source column in priority
// order, lowest first. Callers evaluate them first-match-wins.
func (s *Store) ActiveRulesForColumn(ctx context.Context, sourceColumn string) ([]models.ConditionalMappingRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_column, condition_type, condition_config, action_type, action_config, priority, active, created_at
		FROM conditional_mapping_rules
		WHERE source_column = $1 AND active
		ORDER BY priority, created_at
	`, sourceColumn)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []models.ConditionalMappingRule
	for rows.Next() {
		var r models.ConditionalMappingRule
		var condJSON, actJSON []byte
		if err := rows.Scan(&r.ID, &r.SourceColumn, &r.ConditionType, &condJSON, &r.ActionType,
			&actJSON, &r.Priority, &r.Active, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal(condJSON, &r.ConditionConfig); err != nil {
			return nil, fmt.Errorf("unmarshal condition config: %w", err)
		}
		if err := json.Unmarshal(actJSON, &r.ActionConfig); err != nil {
			return nil, fmt.Errorf("unmarshal action config: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeactivateRule soft-disables a rule without losing its audit history.
func (s *Store) DeactivateRule(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conditional_mapping_rules SET active = FALSE WHERE id = $1
	`, id)
	return err
}
