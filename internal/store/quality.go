package store

import (
	"context"
	"fmt"

	"migration-engine/internal/models"
)

// QualityInputs are the raw aggregates the quality scorer works from, all
// derived from lineage and dedup data for one batch.
type QualityInputs struct {
	LineageTotal  int64 // lineage rows for the batch
	LineageValid  int64 // lineage rows that passed validation
	LineageLanded int64 // lineage rows with a non-empty target hash
	SourceRows    int64 // distinct source rows seen
	CleanRows     int64 // distinct source rows with every field valid
	DuplicateRows int64 // distinct records implicated in dedup candidates
	MigratedTotal int64 // total rows across migrated tables
}

// QualityInputsForBatch aggregates the lineage and dedup facts the scorer
// needs in a handful of queries.
func (s *Store) QualityInputsForBatch(ctx context.Context, batchID string) (QualityInputs, error) {
	var in QualityInputs

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE valid),
		       COUNT(*) FILTER (WHERE target_hash <> ''),
		       COUNT(DISTINCT source_row)
		FROM lineage_records WHERE batch_id = $1
	`, batchID).Scan(&in.LineageTotal, &in.LineageValid, &in.LineageLanded, &in.SourceRows)
	if err != nil {
		return QualityInputs{}, fmt.Errorf("aggregate lineage: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT source_row FROM lineage_records
			WHERE batch_id = $1
			GROUP BY source_row
			HAVING BOOL_AND(valid)
		) clean
	`, batchID).Scan(&in.CleanRows)
	if err != nil {
		return QualityInputs{}, fmt.Errorf("count clean rows: %w", err)
	}

	in.DuplicateRows, err = s.DuplicateRecordCount(ctx, batchID)
	if err != nil {
		return QualityInputs{}, err
	}
	in.MigratedTotal = in.SourceRows
	return in, nil
}

// InsertQualityScore persists the scorer's output for a batch.
func (s *Store) InsertQualityScore(ctx context.Context, q models.QualityScore) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quality_scores (id, batch_id, completeness, accuracy, consistency, uniqueness, overall, grade, ready, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, q.ID, q.BatchID, q.Completeness, q.Accuracy, q.Consistency, q.Uniqueness, q.Overall, q.Grade, q.ReadyForProduction)
	if err != nil {
		return fmt.Errorf("insert quality score: %w", err)
	}
	return nil
}

// QualityScoreForBatch returns the latest score for a batch.
func (s *Store) QualityScoreForBatch(ctx context.Context, batchID string) (models.QualityScore, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, batch_id, completeness, accuracy, consistency, uniqueness, overall, grade, ready, calculated_at
		FROM quality_scores
		WHERE batch_id = $1
		ORDER BY calculated_at DESC
		LIMIT 1
	`, batchID)

	var q models.QualityScore
	if err := row.Scan(&q.ID, &q.BatchID, &q.Completeness, &q.Accuracy, &q.Consistency, &q.Uniqueness,
		&q.Overall, &q.Grade, &q.ReadyForProduction, &q.CalculatedAt); err != nil {
		return models.QualityScore{}, fmt.Errorf("scan quality score: %w", err)
	}
	return q, nil
}
