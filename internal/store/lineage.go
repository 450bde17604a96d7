package store

import (
	"context"
	"fmt"

	"migration-engine/internal/models"
)

// InsertLineageRecords appends a batch of lineage rows. Lineage is
// append-only; there is no update path.
func (s *Store) InsertLineageRecords(ctx context.Context, records []models.LineageRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([][]any, 0, len(records))
	for _, r := range records {
		batch = append(batch, []any{
			r.ID, r.BatchID, r.SourceFile, r.SourceRow, r.SourceColumn, r.SourceHash,
			r.TargetTable, r.TargetColumn, r.TargetRowID, r.TargetHash, r.Steps, r.Valid, r.Errors,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	for _, args := range batch {
		if _, err := tx.Exec(ctx, `
			INSERT INTO lineage_records (id, batch_id, source_file, source_row, source_column, source_hash, target_table, target_column, target_row_id, target_hash, steps, valid, errors, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		`, args...); err != nil {
			return fmt.Errorf("insert lineage record: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// LineageByTarget returns the lineage chain feeding one output row, ordered
// by source row, column, and creation time.
func (s *Store) LineageByTarget(ctx context.Context, targetTable, targetRowID string) ([]models.LineageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, source_file, source_row, source_column, source_hash, target_table, target_column, target_row_id, target_hash, steps, valid, errors, created_at
		FROM lineage_records
		WHERE target_table = $1 AND target_row_id = $2
		ORDER BY source_row, source_column, created_at
	`, targetTable, targetRowID)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	defer rows.Close()

	var out []models.LineageRecord
	for rows.Next() {
		var r models.LineageRecord
		if err := rows.Scan(&r.ID, &r.BatchID, &r.SourceFile, &r.SourceRow, &r.SourceColumn, &r.SourceHash,
			&r.TargetTable, &r.TargetColumn, &r.TargetRowID, &r.TargetHash, &r.Steps, &r.Valid, &r.Errors, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lineage record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LineageCount returns how many lineage rows exist for a batch.
func (s *Store) LineageCount(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM lineage_records WHERE batch_id = $1
	`, batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count lineage: %w", err)
	}
	return n, nil
}
